package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
	"github.com/DevRickLin/chat-relay/internal/metrics"
)

var (
	// ErrSendExhausted is returned when every attempt failed
	ErrSendExhausted = errors.New("send attempts exhausted")
	// ErrNotRecorded is returned when a delivered message could not be stored
	ErrNotRecorded = errors.New("sent message not recorded")
)

// SendState is a state of the dispatcher's retry machine
type SendState int

const (
	SendIdle SendState = iota
	SendAttempting
	SendRecovering
	SendSucceeded
	SendFailed
)

func (s SendState) String() string {
	switch s {
	case SendIdle:
		return "idle"
	case SendAttempting:
		return "attempting"
	case SendRecovering:
		return "recovering"
	case SendSucceeded:
		return "succeeded"
	case SendFailed:
		return "failed"
	default:
		return fmt.Sprintf("SendState(%d)", int(s))
	}
}

// RetryPolicy bounds the dispatcher's attempts
type RetryPolicy struct {
	MaxAttempts  int
	Backoff      time.Duration // wait before recovering
	RecoveryWait time.Duration // wait after recovering, before the next attempt
}

// DefaultRetryPolicy is the default retry policy
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  3,
	Backoff:      2 * time.Second,
	RecoveryWait: 3 * time.Second,
}

// SendReport describes how a send went
type SendReport struct {
	ConversationID string
	State          SendState
	Attempts       int
	Transitions    []SendState
	Message        *domain.Message // the recorded outgoing message on success
	Err            error
}

// OK reports whether the message was sent and recorded
func (r *SendReport) OK() bool {
	return r.State == SendSucceeded
}

func (r *SendReport) to(s SendState) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Dispatcher sends messages through the connector with bounded retries and recovery
type Dispatcher struct {
	session *ConnectorSession
	store   repo.ChatStoreRepo
	policy  RetryPolicy
	logger  *zap.Logger
	metrics *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	session *ConnectorSession,
	store repo.ChatStoreRepo,
	policy RetryPolicy,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Dispatcher{
		session: session,
		store:   store,
		policy:  policy,
		logger:  logger,
		metrics: m,
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Send sends text and reports whether it was delivered and recorded
func (d *Dispatcher) Send(ctx context.Context, conversationID, text string) bool {
	return d.Dispatch(ctx, conversationID, text).OK()
}

// Dispatch runs the retry machine:
// Idle -> Attempting -> (Succeeded | Recovering -> Attempting) -> Failed.
// A delivered message is stored before Succeeded is reached.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID, text string) *SendReport {
	r := &SendReport{ConversationID: conversationID, State: SendIdle}
	defer func() {
		d.metrics.Send(r.State.String(), r.Attempts)
	}()

	text = strings.TrimSpace(text)
	if text == "" || strings.TrimSpace(conversationID) == "" {
		r.to(SendFailed)
		r.Err = domain.ErrEmptyMessage
		return r
	}

	// cancellation stops further attempts; an attempt that holds the
	// connector runs to completion and its result is recorded
	attemptCtx := context.WithoutCancel(ctx)

	r.to(SendAttempting)
	for {
		r.Attempts++
		err := d.session.Do(ctx, func(_ context.Context, c repo.ConnectorRepo) error {
			return c.Send(attemptCtx, conversationID, text)
		})
		if err == nil {
			break
		}

		d.logger.Warn("Send attempt failed",
			zap.String("conversation", conversationID),
			zap.Int("attempt", r.Attempts),
			zap.Error(err))

		if ctx.Err() != nil || errors.Is(err, ErrConnectorClosed) {
			r.to(SendFailed)
			r.Err = err
			return r
		}
		if r.Attempts >= d.policy.MaxAttempts {
			r.to(SendFailed)
			r.Err = fmt.Errorf("%w after %d attempts: %v", ErrSendExhausted, r.Attempts, err)
			return r
		}

		r.to(SendRecovering)
		if err := d.recover(ctx); err != nil {
			r.to(SendFailed)
			r.Err = err
			return r
		}
		r.to(SendAttempting)
	}

	msg := domain.NewOutgoingMessage(conversationID, text, d.now())
	if _, err := d.store.Save(attemptCtx, msg); err != nil {
		d.logger.Error("Sent message not recorded",
			zap.String("conversation", conversationID),
			zap.Error(err))
		r.to(SendFailed)
		r.Err = fmt.Errorf("%w: %v", ErrNotRecorded, err)
		return r
	}

	r.Message = msg
	r.to(SendSucceeded)
	d.logger.Info("Message sent",
		zap.String("conversation", conversationID),
		zap.Int("attempts", r.Attempts))
	return r
}

// recover waits out the backoff, resets the connector and lets it settle.
// A failed reset is logged; the next attempt decides.
func (d *Dispatcher) recover(ctx context.Context) error {
	if err := d.sleep(ctx, d.policy.Backoff); err != nil {
		return err
	}
	d.metrics.Recovery("send")
	if err := d.session.Recover(ctx); err != nil {
		if errors.Is(err, ErrConnectorClosed) || ctx.Err() != nil {
			return err
		}
		d.logger.Warn("Connector recovery failed", zap.Error(err))
	}
	return d.sleep(ctx, d.policy.RecoveryWait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
