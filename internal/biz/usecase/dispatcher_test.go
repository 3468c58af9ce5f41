package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/metrics"
)

func newTestDispatcher(conn *fakeConnector, store *fakeStore, sleeps *[]time.Duration) *Dispatcher {
	d := NewDispatcher(NewConnectorSession(conn), store, RetryPolicy{
		MaxAttempts:  3,
		Backoff:      2 * time.Second,
		RecoveryWait: 3 * time.Second,
	}, zap.NewNop(), metrics.New())
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, dur)
		}
		return ctx.Err()
	}
	return d
}

func TestDispatcher_FirstAttemptSucceeds(t *testing.T) {
	conn := &fakeConnector{}
	store := newFakeStore()
	d := newTestDispatcher(conn, store, nil)

	report := d.Dispatch(context.Background(), "Chen", "On my way")

	require.True(t, report.OK())
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, []SendState{SendAttempting, SendSucceeded}, report.Transitions)
	assert.Equal(t, []string{"Chen|On my way"}, conn.Sends())

	out := store.outgoing()
	require.Len(t, out, 1)
	assert.Equal(t, domain.OutgoingSender, out[0].SenderName)
	assert.Equal(t, domain.DirectionOutgoing, out[0].Direction)
	assert.True(t, out[0].IsRead)
	assert.True(t, out[0].IsFromMe)
	assert.Equal(t, report.Message.ID, out[0].ID)
}

func TestDispatcher_RecoversBetweenAttempts(t *testing.T) {
	conn := &fakeConnector{failSends: 2}
	var sleeps []time.Duration
	d := newTestDispatcher(conn, newFakeStore(), &sleeps)

	report := d.Dispatch(context.Background(), "Chen", "hi")

	require.True(t, report.OK())
	assert.Equal(t, 3, report.Attempts)
	assert.Equal(t, []SendState{
		SendAttempting, SendRecovering,
		SendAttempting, SendRecovering,
		SendAttempting, SendSucceeded,
	}, report.Transitions)
	assert.Equal(t, []string{"send", "recover", "send", "recover", "send"}, conn.Calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second, 2 * time.Second, 3 * time.Second}, sleeps)
}

func TestDispatcher_Exhausted(t *testing.T) {
	conn := &fakeConnector{failSends: 10}
	store := newFakeStore()
	d := newTestDispatcher(conn, store, nil)

	report := d.Dispatch(context.Background(), "Chen", "hi")

	assert.Equal(t, SendFailed, report.State)
	assert.Equal(t, 3, report.Attempts)
	assert.ErrorIs(t, report.Err, ErrSendExhausted)
	assert.Equal(t, SendFailed, report.Transitions[len(report.Transitions)-1])
	assert.Equal(t, 2, conn.recovers, "no recovery after the last attempt")
	assert.Empty(t, store.outgoing())
	assert.False(t, d.Send(context.Background(), "Chen", "hi"))
}

func TestDispatcher_NotRecorded(t *testing.T) {
	conn := &fakeConnector{}
	store := newFakeStore()
	store.saveErr = errors.New("disk full")
	d := newTestDispatcher(conn, store, nil)

	report := d.Dispatch(context.Background(), "Chen", "hi")

	assert.Equal(t, SendFailed, report.State)
	assert.ErrorIs(t, report.Err, ErrNotRecorded)
	assert.Len(t, conn.Sends(), 1, "a delivered message is not re-sent")
}

func TestDispatcher_EmptyText(t *testing.T) {
	conn := &fakeConnector{}
	d := newTestDispatcher(conn, newFakeStore(), nil)

	report := d.Dispatch(context.Background(), "Chen", "   ")

	assert.Equal(t, SendFailed, report.State)
	assert.ErrorIs(t, report.Err, domain.ErrEmptyMessage)
	assert.Zero(t, report.Attempts)
	assert.Empty(t, conn.Calls())
}

func TestDispatcher_CancelledDuringBackoff(t *testing.T) {
	conn := &fakeConnector{failSends: 10}
	d := newTestDispatcher(conn, newFakeStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	d.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	report := d.Dispatch(ctx, "Chen", "hi")

	assert.Equal(t, SendFailed, report.State)
	assert.ErrorIs(t, report.Err, context.Canceled)
	assert.Equal(t, 1, report.Attempts)
}

// cancelOnSend cancels the caller's context while the send is under way
type cancelOnSend struct {
	*fakeConnector
	cancel context.CancelFunc
	ctxErr error
}

func (c *cancelOnSend) Send(ctx context.Context, conversationID, text string) error {
	c.cancel()
	c.ctxErr = ctx.Err()
	return c.fakeConnector.Send(ctx, conversationID, text)
}

func TestDispatcher_CancelDoesNotAbortAttemptInProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &cancelOnSend{fakeConnector: &fakeConnector{}, cancel: cancel}
	store := newFakeStore()
	d := NewDispatcher(NewConnectorSession(conn), store, DefaultRetryPolicy, zap.NewNop(), nil)
	d.sleep = noSleep

	report := d.Dispatch(ctx, "Chen", "On my way")

	require.True(t, report.OK())
	assert.NoError(t, conn.ctxErr)
	assert.Equal(t, []string{"Chen|On my way"}, conn.Sends())
	assert.Len(t, store.outgoing(), 1)
}

func TestSendState_String(t *testing.T) {
	assert.Equal(t, "recovering", SendRecovering.String())
	assert.Equal(t, "SendState(42)", SendState(42).String())
}
