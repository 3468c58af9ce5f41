package repo

import (
	"context"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
)

// NotifierRepo delivers outward events to the user's UI or voice layer
type NotifierRepo interface {
	Notify(ctx context.Context, n *domain.Notification) error
}
