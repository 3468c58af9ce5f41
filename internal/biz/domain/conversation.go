package domain

import "time"

// ConversationHandle is a conversation as seen in the connector's chat list
type ConversationHandle struct {
	ID          string // stable id; for WhatsApp Web this is the chat title
	Preview     string // last-message preview shown in the list
	SenderName  string // sender shown in the preview, if any
	UnreadCount int
}

// RawMessage is a message row as read from an open conversation
type RawMessage struct {
	ID         string // connector-provided id, may be empty
	SenderName string
	Content    string
	TimeText   string // time label as rendered, used for id derivation
	Timestamp  time.Time
	Type       MessageType
	IsFromMe   bool
}

// ConversationSummary is a per-conversation rollup of the chat store
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	LastMessageAt  time.Time `json:"last_message_at"`
	LastPreview    string    `json:"last_preview"`
	MessageCount   int       `json:"message_count"`
	UnreadCount    int       `json:"unread_count"`
}

// ReadWindow is the trailing window of messages read from one conversation
type ReadWindow struct {
	ConversationID string
	Messages       []RawMessage
}

// AfterAnchor returns the messages that follow the last occurrence of the
// anchor content. Without an anchor, or when the anchor scrolled out of the
// window, it falls back to the trailing run of messages after the last one
// the user sent.
func (w *ReadWindow) AfterAnchor(anchor string) []RawMessage {
	if anchor != "" {
		for i := len(w.Messages) - 1; i >= 0; i-- {
			if w.Messages[i].Content == anchor {
				return w.Messages[i+1:]
			}
		}
	}
	return w.TrailingIncoming()
}

// TrailingIncoming returns the messages after the last self-authored one
func (w *ReadWindow) TrailingIncoming() []RawMessage {
	for i := len(w.Messages) - 1; i >= 0; i-- {
		if w.Messages[i].IsFromMe {
			return w.Messages[i+1:]
		}
	}
	return w.Messages
}

// ConnectorHealth reports the state of the connector session
type ConnectorHealth struct {
	BrowserRunning bool `json:"browser_running"`
	LoggedIn       bool `json:"logged_in"`
	PhoneConnected bool `json:"phone_connected"`
}

// Healthy reports whether the connector can observe and send
func (h ConnectorHealth) Healthy() bool {
	return h.BrowserRunning && h.LoggedIn
}
