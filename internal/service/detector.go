package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
	"github.com/DevRickLin/chat-relay/internal/biz/usecase"
	"github.com/DevRickLin/chat-relay/internal/metrics"
)

// ErrPollInFlight is returned when a poll starts while another is running
var ErrPollInFlight = errors.New("poll already in flight")

// DetectorConfig contains change detector settings
type DetectorConfig struct {
	MaxConversations int // conversations scanned per cycle
	ReadLimit        int // trailing messages read from a changed conversation
	RecoverAfter     int // consecutive connector failures before a recovery; 0 disables
}

// DefaultDetectorConfig returns the default detector settings
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{MaxConversations: 20, ReadLimit: 10, RecoverAfter: 3}
}

// Detector finds new incoming messages by comparing chat list previews
// against what it observed before.
type Detector struct {
	config   DetectorConfig
	session  *usecase.ConnectorSession
	store    repo.ChatStoreRepo
	contexts *usecase.ContextStore
	logger   *zap.Logger
	metrics  *metrics.Metrics

	inFlight atomic.Bool

	mu       sync.Mutex
	state    *domain.ObservedState
	failures int

	now func() time.Time
}

// NewDetector creates a new change detector
func NewDetector(
	config DetectorConfig,
	session *usecase.ConnectorSession,
	store repo.ChatStoreRepo,
	contexts *usecase.ContextStore,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Detector {
	def := DefaultDetectorConfig()
	if config.MaxConversations <= 0 {
		config.MaxConversations = def.MaxConversations
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = def.ReadLimit
	}
	return &Detector{
		config:   config,
		session:  session,
		store:    store,
		contexts: contexts,
		logger:   logger,
		metrics:  m,
		state:    domain.NewObservedState(),
		now:      time.Now,
	}
}

// Restore replaces the observed state, typically with a snapshot loaded at startup
func (d *Detector) Restore(state *domain.ObservedState) {
	if state == nil {
		return
	}
	d.mu.Lock()
	d.state = state.Clone()
	d.mu.Unlock()
}

// Snapshot returns a copy of the observed state
func (d *Detector) Snapshot() *domain.ObservedState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Clone()
}

// Poll runs one detection cycle and returns the newly surfaced messages,
// each already persisted and appended to its conversation context.
func (d *Detector) Poll(ctx context.Context) ([]*domain.Message, error) {
	if !d.inFlight.CompareAndSwap(false, true) {
		d.metrics.PollCycle("skipped", 0)
		return nil, ErrPollInFlight
	}
	defer d.inFlight.Store(false)

	start := d.now()

	var handles []domain.ConversationHandle
	err := d.session.Do(ctx, func(ctx context.Context, c repo.ConnectorRepo) error {
		var err error
		handles, err = c.ListUnreadConversations(ctx, d.config.MaxConversations)
		return err
	})
	if err != nil {
		d.metrics.PollCycle("error", d.now().Sub(start))
		d.connectorFailed(ctx, err)
		return nil, fmt.Errorf("list unread conversations: %w", err)
	}
	d.mu.Lock()
	d.failures = 0
	d.mu.Unlock()

	if len(handles) > d.config.MaxConversations {
		handles = handles[:d.config.MaxConversations]
	}

	var surfaced []*domain.Message
	for _, h := range handles {
		if ctx.Err() != nil {
			break
		}
		msgs, err := d.scan(ctx, h)
		surfaced = append(surfaced, msgs...)
		if err != nil {
			d.logger.Warn("Conversation scan failed", zap.String("conversation", h.ID), zap.Error(err))
		}
	}

	d.metrics.Surfaced(len(surfaced))
	d.metrics.PollCycle("ok", d.now().Sub(start))
	return surfaced, nil
}

// scan checks one conversation. Messages persisted before an error are
// still returned so they are decided exactly once.
func (d *Detector) scan(ctx context.Context, h domain.ConversationHandle) ([]*domain.Message, error) {
	d.mu.Lock()
	prev, known := d.state.Previews[h.ID]
	anchor := d.state.LastSeen[h.ID]
	if !known {
		d.state.Previews[h.ID] = h.Preview
	}
	d.mu.Unlock()

	if !known {
		d.logger.Debug("Baseline recorded", zap.String("conversation", h.ID))
		return nil, nil
	}
	if prev == h.Preview {
		return nil, nil
	}

	var window *domain.ReadWindow
	err := d.session.Do(ctx, func(ctx context.Context, c repo.ConnectorRepo) error {
		var err error
		window, err = c.ReadRecentMessages(ctx, h.ID, d.config.ReadLimit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read recent messages: %w", err)
	}

	now := d.now()
	var surfaced []*domain.Message
	lastSeen := anchor
	for _, raw := range window.AfterAnchor(anchor) {
		if raw.IsFromMe || raw.Content == "" || raw.Content == anchor {
			continue
		}
		msg := domain.NewIncomingMessage(h.ID, raw, now)

		exists, err := d.store.Exists(ctx, msg.ID)
		if err != nil {
			d.advance(h.ID, "", false, lastSeen)
			return surfaced, fmt.Errorf("check message: %w", err)
		}
		if !exists {
			if _, err := d.store.Save(ctx, msg); err != nil {
				d.advance(h.ID, "", false, lastSeen)
				return surfaced, fmt.Errorf("persist message: %w", err)
			}
			d.contexts.Append(h.ID, msg.Content, domain.DirectionIncoming)
			surfaced = append(surfaced, msg)
		}
		lastSeen = raw.Content
	}

	d.advance(h.ID, h.Preview, true, lastSeen)
	return surfaced, nil
}

// advance records what has been observed. The preview fingerprint only
// moves once the whole window was handled, so a failed scan is retried.
func (d *Detector) advance(conversationID, preview string, scanned bool, lastSeen string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if scanned {
		d.state.Previews[conversationID] = preview
	}
	if lastSeen != "" {
		d.state.LastSeen[conversationID] = lastSeen
	}
}

// connectorFailed counts consecutive connector failures and recovers the
// connector once the threshold is reached
func (d *Detector) connectorFailed(ctx context.Context, err error) {
	if ctx.Err() != nil || errors.Is(err, usecase.ErrConnectorClosed) {
		return
	}

	d.mu.Lock()
	d.failures++
	due := d.config.RecoverAfter > 0 && d.failures >= d.config.RecoverAfter
	if due {
		d.failures = 0
	}
	d.mu.Unlock()

	d.logger.Warn("Poll cycle failed", zap.Error(err))
	if !due {
		return
	}

	d.metrics.Recovery("poll")
	d.logger.Warn("Recovering connector after repeated poll failures")
	if err := d.session.Recover(ctx); err != nil {
		d.logger.Error("Connector recovery failed", zap.Error(err))
	}
}
