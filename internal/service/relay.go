package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
	"github.com/DevRickLin/chat-relay/internal/biz/usecase"
)

// RelayService owns the polling loop and the per-message decision tasks
type RelayService struct {
	detector     *Detector
	decision     *usecase.DecisionUsecase
	resolver     *usecase.Resolver
	session      *usecase.ConnectorSession
	fingerprints repo.FingerprintRepo
	logger       *zap.Logger

	interval time.Duration
	grace    time.Duration

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	taskCancel context.CancelFunc
	loopDone   chan struct{}
	tasks      sync.WaitGroup
}

// NewRelayService creates a new relay service
func NewRelayService(
	detector *Detector,
	decision *usecase.DecisionUsecase,
	resolver *usecase.Resolver,
	session *usecase.ConnectorSession,
	fingerprints repo.FingerprintRepo,
	interval time.Duration,
	logger *zap.Logger,
) *RelayService {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &RelayService{
		detector:     detector,
		decision:     decision,
		resolver:     resolver,
		session:      session,
		fingerprints: fingerprints,
		logger:       logger,
		interval:     interval,
		grace:        10 * time.Second,
	}
}

// SetStopGrace sets how long Stop waits for the in-flight cycle and tasks
func (s *RelayService) SetStopGrace(d time.Duration) {
	s.grace = d
}

// Start restores the observed state and starts the polling loop
func (s *RelayService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	if s.fingerprints != nil {
		state, err := s.fingerprints.Load(ctx)
		if err != nil {
			s.logger.Warn("Failed to restore observed state", zap.Error(err))
		} else {
			s.detector.Restore(state)
			s.logger.Info("Observed state restored", zap.Int("conversations", len(state.Previews)))
		}
	}

	// Decision tasks outlive the loop so in-flight sends can finish on Stop
	taskCtx, taskCancel := context.WithCancel(context.WithoutCancel(ctx))
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.taskCancel = taskCancel
	s.loopDone = make(chan struct{})
	s.running = true

	go s.loop(loopCtx, taskCtx)
	s.logger.Info("Relay started", zap.Duration("interval", s.interval))
}

// Stop stops polling, waits for in-flight work, snapshots the observed state
// and releases the connector
func (s *RelayService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	select {
	case <-s.loopDone:
	case <-time.After(s.grace):
		s.logger.Warn("Poll cycle still running after grace period")
	}

	tasksDone := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(tasksDone)
	}()
	select {
	case <-tasksDone:
	case <-time.After(s.grace):
		// ends completions and retry backoff; a send attempt already under way still finishes
		s.logger.Warn("Cancelling decision tasks after grace period")
		s.taskCancel()
		<-tasksDone
	}
	s.taskCancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	if err := s.Snapshot(ctx); err != nil {
		s.logger.Warn("Failed to snapshot observed state", zap.Error(err))
	}
	if err := s.session.Close(ctx); err != nil {
		s.logger.Error("Failed to close connector", zap.Error(err))
	}
	s.logger.Info("Relay stopped")
}

func (s *RelayService) loop(ctx, taskCtx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.run(ctx, taskCtx, ticker.C)
}

// run polls once per tick. A tick that fired during a long cycle is
// dropped, not queued.
func (s *RelayService) run(ctx, taskCtx context.Context, ticks <-chan time.Time) {
	for {
		s.pollOnce(ctx, taskCtx)

		select {
		case <-ticks:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-ticks:
		}
	}
}

// pollOnce runs a detection cycle and hands each surfaced message to its own decision task
func (s *RelayService) pollOnce(ctx, taskCtx context.Context) {
	msgs, err := s.detector.Poll(ctx)
	if err != nil {
		if !errors.Is(err, ErrPollInFlight) && ctx.Err() == nil {
			s.logger.Debug("Poll failed", zap.Error(err))
		}
		return
	}

	for _, msg := range msgs {
		s.logger.Info("New message",
			zap.String("conversation", msg.ConversationID),
			zap.String("sender", msg.SenderName),
			zap.String("preview", msg.Preview(50)))

		s.tasks.Add(1)
		go func(msg *domain.Message) {
			defer s.tasks.Done()
			s.decision.Decide(taskCtx, msg)
		}(msg)
	}
}

// HandleUtterance resolves one user utterance. The resolution is detached
// from ctx: once the pending slot is taken its reply must not be cut off
// by a caller going away.
func (s *RelayService) HandleUtterance(ctx context.Context, text string) (*usecase.Resolution, error) {
	return s.resolver.Resolve(context.WithoutCancel(ctx), text)
}

// Dispatch sends a message the user addressed to a conversation directly
func (s *RelayService) Dispatch(ctx context.Context, conversationID, text string) *usecase.SendReport {
	return s.resolver.Deliver(context.WithoutCancel(ctx), conversationID, text)
}

// Snapshot persists the detector's observed state
func (s *RelayService) Snapshot(ctx context.Context) error {
	if s.fingerprints == nil {
		return nil
	}
	return s.fingerprints.Save(ctx, s.detector.Snapshot())
}

// Health reports the connector state
func (s *RelayService) Health(ctx context.Context) (domain.ConnectorHealth, error) {
	return s.session.Health(ctx)
}
