package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
	"github.com/DevRickLin/chat-relay/internal/infra/whatsapp"
)

// WhatsAppClient is the browser client the connector drives
type WhatsAppClient interface {
	UnreadChats(ctx context.Context, limit int) ([]whatsapp.ChatItem, error)
	ReadMessages(ctx context.Context, chat string, limit int) ([]whatsapp.Bubble, error)
	SendText(ctx context.Context, chat, text string) error
	Reload(ctx context.Context) error
	Status(ctx context.Context) whatsapp.Status
	Close() error
}

// connectorRepo implements the connector repository on WhatsApp Web
type connectorRepo struct {
	client WhatsAppClient
	now    func() time.Time
}

// NewConnectorRepo creates a connector repository
func NewConnectorRepo(client WhatsAppClient) repo.ConnectorRepo {
	return &connectorRepo{client: client, now: time.Now}
}

// ListUnreadConversations lists chats showing an unread badge or bold title
func (r *connectorRepo) ListUnreadConversations(ctx context.Context, limit int) ([]domain.ConversationHandle, error) {
	items, err := r.client.UnreadChats(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread chats: %w", err)
	}

	result := make([]domain.ConversationHandle, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		result = append(result, domain.ConversationHandle{
			ID:          name,
			Preview:     strings.TrimSpace(item.Preview),
			SenderName:  item.Sender,
			UnreadCount: item.Unread,
		})
	}
	return result, nil
}

// ReadRecentMessages reads the trailing messages of a chat
func (r *connectorRepo) ReadRecentMessages(ctx context.Context, conversationID string, limit int) (*domain.ReadWindow, error) {
	bubbles, err := r.client.ReadMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	now := r.now()
	window := &domain.ReadWindow{ConversationID: conversationID}
	for _, b := range bubbles {
		content := strings.TrimSpace(b.Text)
		msgType := domain.ParseMessageType(b.Kind)
		if content == "" {
			if msgType == domain.MessageTypeText {
				continue
			}
			content = "[" + string(msgType) + "]"
		}
		sender := strings.TrimSpace(b.Sender)
		if sender == "" && !b.Outgoing {
			sender = conversationID
		}
		if b.Outgoing {
			sender = domain.OutgoingSender
		}
		window.Messages = append(window.Messages, domain.RawMessage{
			ID:         b.ID,
			SenderName: sender,
			Content:    content,
			TimeText:   b.Time,
			Timestamp:  parseBubbleTime(now, b.Time),
			Type:       msgType,
			IsFromMe:   b.Outgoing,
		})
	}
	return window, nil
}

// Send types a message into a chat
func (r *connectorRepo) Send(ctx context.Context, conversationID, text string) error {
	if err := r.client.SendText(ctx, conversationID, text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Recover reloads WhatsApp Web
func (r *connectorRepo) Recover(ctx context.Context) error {
	if err := r.client.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	return nil
}

// HealthCheck reports the browser session state
func (r *connectorRepo) HealthCheck(ctx context.Context) (domain.ConnectorHealth, error) {
	st := r.client.Status(ctx)
	return domain.ConnectorHealth{
		BrowserRunning: st.BrowserRunning,
		LoggedIn:       st.LoggedIn,
		PhoneConnected: st.PhoneConnected,
	}, nil
}

// Close closes the browser
func (r *connectorRepo) Close() error {
	return r.client.Close()
}

var bubbleTimeLayouts = []string{"3:04 PM", "3:04 pm", "15:04"}

// parseBubbleTime turns a bubble time label into today's timestamp, or
// yesterday's when the label is later than now. Unknown labels give the zero time.
func parseBubbleTime(now time.Time, label string) time.Time {
	label = strings.TrimSpace(label)
	for _, layout := range bubbleTimeLayouts {
		t, err := time.Parse(layout, label)
		if err != nil {
			continue
		}
		ts := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if ts.After(now.Add(time.Minute)) {
			ts = ts.AddDate(0, 0, -1)
		}
		return ts
	}
	return time.Time{}
}
