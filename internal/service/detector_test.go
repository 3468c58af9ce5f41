package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
	"github.com/DevRickLin/chat-relay/internal/biz/usecase"
)

type detectorFixture struct {
	conn     *scriptConnector
	store    repo.ChatStoreRepo
	contexts *usecase.ContextStore
	d        *Detector
}

func newDetectorFixture(t *testing.T, config DetectorConfig) *detectorFixture {
	f := &detectorFixture{
		conn:     newScriptConnector(),
		store:    newTestStore(t),
		contexts: usecase.NewContextStore(usecase.DefaultContextConfig),
	}
	f.d = NewDetector(config, usecase.NewConnectorSession(f.conn), f.store, f.contexts, zap.NewNop(), nil)
	return f
}

func contents(msgs []*domain.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestDetector_BaselineThenNewMessages(t *testing.T) {
	f := newDetectorFixture(t, DefaultDetectorConfig())
	ctx := context.Background()

	// first sighting only records the baseline
	f.conn.show("Chen", "old news", me("see you"), them("old news"))
	got, err := f.d.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, f.conn.reads)

	f.conn.show("Chen", "Can we meet at 3pm?", me("see you"), them("old news"), them("Can we meet at 3pm?"))
	got, err = f.d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old news", "Can we meet at 3pm?"}, contents(got), "no anchor yet: trailing incoming run")

	for _, m := range got {
		ok, err := f.store.Exists(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, ok, "surfaced messages are persisted first")
	}
	assert.Equal(t, []string{"[THEM] old news", "[THEM] Can we meet at 3pm?"}, f.contexts.History("Chen"))

	// unchanged preview is skipped without a read
	reads := len(f.conn.reads)
	got, err = f.d.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, f.conn.reads, reads)

	// only messages after the anchor are candidates
	f.conn.show("Chen", "bring the slides",
		me("see you"), them("old news"), them("Can we meet at 3pm?"), them("bring the slides"))
	got, err = f.d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bring the slides"}, contents(got))

	snap := f.d.Snapshot()
	assert.Equal(t, "bring the slides", snap.Previews["Chen"])
	assert.Equal(t, "bring the slides", snap.LastSeen["Chen"])
}

func TestDetector_AnchorContentNeverResurfaced(t *testing.T) {
	f := newDetectorFixture(t, DefaultDetectorConfig())
	ctx := context.Background()

	state := domain.NewObservedState()
	state.Previews["Chen"] = "ok"
	state.LastSeen["Chen"] = "ok"
	f.d.Restore(state)

	// preview truncation aliasing: the preview changed but the only new bubble repeats the anchor
	f.conn.show("Chen", "ok!", them("ok"), me("sure"), them("ok"))
	got, err := f.d.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetector_OwnMessagesAndKnownIDsAreSkipped(t *testing.T) {
	f := newDetectorFixture(t, DefaultDetectorConfig())
	ctx := context.Background()

	f.conn.show("Chen", "a", them("a"))
	_, err := f.d.Poll(ctx)
	require.NoError(t, err)

	known := domain.NewIncomingMessage("Chen", them("already stored"), f.d.now())
	_, err = f.store.Save(ctx, known)
	require.NoError(t, err)

	f.conn.show("Chen", "already stored", them("a"), me("mine"), them("already stored"))
	got, err := f.d.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "already stored", f.d.Snapshot().LastSeen["Chen"])
	assert.Empty(t, f.contexts.History("Chen"))
}

func TestDetector_ScanFailureIsIsolated(t *testing.T) {
	f := newDetectorFixture(t, DefaultDetectorConfig())
	ctx := context.Background()

	f.conn.show("Ana", "x")
	f.conn.show("Chen", "y")
	_, err := f.d.Poll(ctx)
	require.NoError(t, err)

	f.conn.readErr["Ana"] = errUnreachable
	f.conn.show("Ana", "x2", them("x2"))
	f.conn.show("Chen", "y2", them("y2"))

	got, err := f.d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"y2"}, contents(got))
	assert.Equal(t, "x", f.d.Snapshot().Previews["Ana"], "failed scan keeps the old fingerprint")

	delete(f.conn.readErr, "Ana")
	got, err = f.d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"x2"}, contents(got), "retried on the next cycle")
}

func TestDetector_PersistFailureKeepsFingerprint(t *testing.T) {
	f := newDetectorFixture(t, DefaultDetectorConfig())
	store := &failingStore{ChatStoreRepo: f.store}
	f.d.store = store
	ctx := context.Background()

	f.conn.show("Chen", "a")
	_, err := f.d.Poll(ctx)
	require.NoError(t, err)

	store.setFail(true)
	f.conn.show("Chen", "Can we meet at 3pm?", them("Can we meet at 3pm?"))
	got, err := f.d.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "nothing is surfaced unless persisted")
	assert.Empty(t, f.contexts.History("Chen"))

	store.setFail(false)
	got, err = f.d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Can we meet at 3pm?"}, contents(got))
}

func TestDetector_ConnectorFailureRecovers(t *testing.T) {
	f := newDetectorFixture(t, DetectorConfig{RecoverAfter: 2})
	f.conn.listErr = errUnreachable
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		got, err := f.d.Poll(ctx)
		assert.ErrorIs(t, err, errUnreachable)
		assert.Empty(t, got)
	}
	assert.Equal(t, 2, f.conn.Recovers())

	f.conn.listErr = nil
	_, err := f.d.Poll(ctx)
	assert.NoError(t, err)
}

func TestDetector_SingleInFlightPoll(t *testing.T) {
	f := newDetectorFixture(t, DefaultDetectorConfig())
	f.conn.block = make(chan struct{})
	f.conn.entered = make(chan struct{}, 1)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.d.Poll(ctx)
		assert.NoError(t, err)
	}()

	<-f.conn.entered
	_, err := f.d.Poll(ctx)
	assert.ErrorIs(t, err, ErrPollInFlight)

	close(f.conn.block)
	wg.Wait()
}

func TestDetector_MaxConversations(t *testing.T) {
	f := newDetectorFixture(t, DetectorConfig{MaxConversations: 1})
	ctx := context.Background()

	f.conn.show("Ana", "a")
	f.conn.show("Chen", "c")
	_, err := f.d.Poll(ctx)
	require.NoError(t, err)

	snap := f.d.Snapshot()
	assert.Contains(t, snap.Previews, "Ana")
	assert.NotContains(t, snap.Previews, "Chen")
}
