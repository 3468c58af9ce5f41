package repo

import (
	"context"
	"time"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
)

// ChatStoreRepo is the chat store repository interface
// Responsible for durable message records (SQLite)
type ChatStoreRepo interface {
	// Save inserts a message; it returns false if the ID was already stored
	Save(ctx context.Context, msg *domain.Message) (bool, error)

	// Exists reports whether a message ID is stored
	Exists(ctx context.Context, id string) (bool, error)

	// GetByID gets a message by ID, nil if not found
	GetByID(ctx context.Context, id string) (*domain.Message, error)

	// ListByConversation lists messages of a conversation, newest first
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error)

	// ListRecent lists the newest messages across conversations
	ListRecent(ctx context.Context, limit int) ([]*domain.Message, error)

	// ListUnread lists incoming messages not yet read, oldest first
	ListUnread(ctx context.Context) ([]*domain.Message, error)

	// Search matches a substring of message content, newest first
	Search(ctx context.Context, query string, limit int) ([]*domain.Message, error)

	// ListConversations summarizes every known conversation, most recent first
	ListConversations(ctx context.Context) ([]*domain.ConversationSummary, error)

	// CountUnread counts unread incoming messages of a conversation
	CountUnread(ctx context.Context, conversationID string) (int, error)

	// MarkRead marks one message read
	MarkRead(ctx context.Context, id string) error

	// MarkConversationRead marks every message of a conversation read
	MarkConversationRead(ctx context.Context, conversationID string) (int64, error)

	// FindConversation resolves a contact name to a known conversation ID, case-insensitively
	FindConversation(ctx context.Context, name string) (string, bool, error)

	// PruneBefore deletes messages older than t
	PruneBefore(ctx context.Context, t time.Time) (int64, error)

	// Close closes the store
	Close() error
}
