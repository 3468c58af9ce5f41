package usecase

import (
	"context"
	"errors"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
)

// ErrConnectorClosed is returned once the session has been released
var ErrConnectorClosed = errors.New("connector session closed")

// ConnectorSession is the single critical section around the connector.
// Reads, sends, recovery and health checks never overlap.
type ConnectorSession struct {
	connector repo.ConnectorRepo
	sem       chan struct{}
	closed    bool
}

// NewConnectorSession creates a new connector session
func NewConnectorSession(connector repo.ConnectorRepo) *ConnectorSession {
	return &ConnectorSession{
		connector: connector,
		sem:       make(chan struct{}, 1),
	}
}

// Do runs fn with exclusive access to the connector. Waiting for the lock
// is abandoned when ctx is done.
func (s *ConnectorSession) Do(ctx context.Context, fn func(ctx context.Context, c repo.ConnectorRepo) error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	if s.closed {
		return ErrConnectorClosed
	}
	return fn(ctx, s.connector)
}

// Health runs a health check inside the critical section
func (s *ConnectorSession) Health(ctx context.Context) (domain.ConnectorHealth, error) {
	var health domain.ConnectorHealth
	err := s.Do(ctx, func(ctx context.Context, c repo.ConnectorRepo) error {
		var err error
		health, err = c.HealthCheck(ctx)
		return err
	})
	return health, err
}

// Recover resets the connector inside the critical section
func (s *ConnectorSession) Recover(ctx context.Context) error {
	return s.Do(ctx, func(ctx context.Context, c repo.ConnectorRepo) error {
		return c.Recover(ctx)
	})
}

// Close waits for the current operation and releases the connector
func (s *ConnectorSession) Close(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.connector.Close()
}
