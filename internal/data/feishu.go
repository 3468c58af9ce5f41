package data

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
)

// TextSender sends plain text to a chat; infra/feishu.Client implements it
type TextSender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// feishuNotifier pushes notifications into the owner's Feishu chat
type feishuNotifier struct {
	client TextSender
	chatID string
}

// NewFeishuNotifier creates a notifier that writes to one Feishu chat
func NewFeishuNotifier(client TextSender, ownerChatID string) repo.NotifierRepo {
	return &feishuNotifier{client: client, chatID: ownerChatID}
}

// Notify sends the rendered notification
func (n *feishuNotifier) Notify(ctx context.Context, note *domain.Notification) error {
	if err := n.client.SendText(ctx, n.chatID, FormatNotification(note)); err != nil {
		return fmt.Errorf("failed to notify feishu: %w", err)
	}
	return nil
}

// FormatNotification renders a notification for a chat surface
func FormatNotification(note *domain.Notification) string {
	var sb strings.Builder
	sb.WriteString(note.Title())
	if note.UnreadCount > 1 {
		fmt.Fprintf(&sb, " (%s unread)", humanize.Comma(int64(note.UnreadCount)))
	}
	if !note.Timestamp.IsZero() {
		sb.WriteString(", " + humanize.Time(note.Timestamp))
	}
	if note.Preview != "" {
		fmt.Fprintf(&sb, "\n> %s", note.Preview)
	}
	if note.Text != "" {
		sb.WriteString("\n\n" + note.Text)
	}
	return sb.String()
}
