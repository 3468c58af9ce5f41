package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
)

func TestHousekeeping_RunOnce(t *testing.T) {
	var runs atomic.Int32
	h := NewHousekeeping(zap.NewNop(),
		Job{Name: "count", Run: func(ctx context.Context) error { runs.Add(1); return nil }},
		Job{Name: "broken", Run: func(ctx context.Context) error { return errors.New("boom") }},
	)
	ctx := context.Background()

	require.NoError(t, h.RunOnce(ctx, "count"))
	assert.Equal(t, int32(1), runs.Load())

	err := h.RunOnce(ctx, "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: boom")

	assert.Error(t, h.RunOnce(ctx, "missing"))
}

func TestHousekeeping_PruneJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	old := domain.NewIncomingMessage("Chen", them("last month"), now)
	old.Timestamp = now.AddDate(0, 0, -40)
	_, err := store.Save(ctx, old)
	require.NoError(t, err)
	_, err = store.Save(ctx, domain.NewIncomingMessage("Chen", them("today"), now))
	require.NoError(t, err)

	h := NewHousekeeping(zap.NewNop(), PruneJob("", store, 30*24*time.Hour, zap.NewNop()))
	require.NoError(t, h.RunOnce(ctx, "prune"))

	left, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "today", left[0].Content)
}

func TestHousekeeping_StartStop(t *testing.T) {
	h := NewHousekeeping(zap.NewNop(),
		Job{Name: "minutely", Cron: "* * * * *", Run: func(ctx context.Context) error { return nil }},
		Job{Name: "manual", Run: func(ctx context.Context) error { return nil }},
	)
	h.Start()
	h.Start()
	h.Stop()
	h.Stop()
}
