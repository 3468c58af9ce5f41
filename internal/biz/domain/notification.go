package domain

import (
	"fmt"
	"time"
)

// NotificationKind is the kind of outward event shown to the user
type NotificationKind string

const (
	NotifyNeedInput      NotificationKind = "need-input"
	NotifyAutoReplied    NotificationKind = "auto-replied"
	NotifySendFailed     NotificationKind = "send-failed"
	NotifyDecisionFailed NotificationKind = "decision-failed"
)

// PreviewLength is the number of runes of the original message carried in a notification
const PreviewLength = 100

// Notification is an event for the UI or voice layer
type Notification struct {
	Kind           NotificationKind `json:"kind"`
	ConversationID string           `json:"conversation_id"`
	SenderName     string           `json:"sender_name"`
	Preview        string           `json:"preview"`
	Text           string           `json:"text"` // summary, sent reply or failure notice
	SpeakAloud     bool             `json:"speak_aloud"`
	UnreadCount    int              `json:"unread_count"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Title renders a one-line heading for the notification
func (n *Notification) Title() string {
	switch n.Kind {
	case NotifyNeedInput:
		return fmt.Sprintf("New message from %s", n.SenderName)
	case NotifyAutoReplied:
		return fmt.Sprintf("Auto-replied to %s", n.ConversationID)
	case NotifySendFailed:
		return fmt.Sprintf("Failed to send message to %s", n.ConversationID)
	case NotifyDecisionFailed:
		return fmt.Sprintf("Could not process message from %s", n.SenderName)
	default:
		return string(n.Kind)
	}
}

// Render renders the notification as plain text
func (n *Notification) Render() string {
	if n.Text == "" {
		return n.Title()
	}
	return n.Title() + "\n\n" + n.Text
}
