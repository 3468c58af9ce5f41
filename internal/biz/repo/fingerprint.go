package repo

import (
	"context"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
)

// FingerprintRepo persists the change detector's observed state on a best-effort basis
type FingerprintRepo interface {
	// Load returns the last snapshot, or an empty state
	Load(ctx context.Context) (*domain.ObservedState, error)

	// Save replaces the snapshot
	Save(ctx context.Context, state *domain.ObservedState) error

	// Close closes the underlying store
	Close() error
}
