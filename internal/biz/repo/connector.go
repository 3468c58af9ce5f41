package repo

import (
	"context"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
)

// ConnectorRepo is the message source connector interface
// The transport is UI-driven and not safe for concurrent use; callers go
// through usecase.ConnectorSession.
type ConnectorRepo interface {
	// ListUnreadConversations lists conversations showing an unread indicator
	ListUnreadConversations(ctx context.Context, limit int) ([]domain.ConversationHandle, error)

	// ReadRecentMessages opens a conversation and reads its trailing messages
	ReadRecentMessages(ctx context.Context, conversationID string, limit int) (*domain.ReadWindow, error)

	// Send sends a text message to a conversation
	Send(ctx context.Context, conversationID, text string) error

	// Recover resets the transport (page reload or reconnect)
	Recover(ctx context.Context) error

	// HealthCheck reports the session state
	HealthCheck(ctx context.Context) (domain.ConnectorHealth, error)

	// Close releases the session
	Close() error
}
