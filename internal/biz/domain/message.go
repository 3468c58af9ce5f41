package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction is the direction of a message relative to the user
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageType is the content type of a message
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeDocument MessageType = "document"
	MessageTypeSticker  MessageType = "sticker"
	MessageTypeLocation MessageType = "location"
	MessageTypeContact  MessageType = "contact"
	MessageTypeUnknown  MessageType = "unknown"
)

// Coarse message categories
const (
	CategoryText  = "text"
	CategoryMedia = "media"
	CategoryOther = "other"
)

// ParseMessageType maps a stored type string back to a MessageType
func ParseMessageType(s string) MessageType {
	switch t := MessageType(s); t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio,
		MessageTypeDocument, MessageTypeSticker, MessageTypeLocation, MessageTypeContact:
		return t
	default:
		return MessageTypeUnknown
	}
}

// Category collapses the type into text, media or other
func (t MessageType) Category() string {
	switch t {
	case MessageTypeText:
		return CategoryText
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeDocument, MessageTypeSticker:
		return CategoryMedia
	default:
		return CategoryOther
	}
}

// OutgoingSender is the sender name recorded for messages the user sent
const OutgoingSender = "Me"

// incomingNamespace seeds deterministic IDs for incoming rows the connector could not identify
var incomingNamespace = uuid.MustParse("6f1c2a4e-8d0b-4c55-9a57-3f3b8e0d6a21")

// Message is a chat message record. Only IsRead changes after it is persisted.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderName     string      `json:"sender_name"`
	Content        string      `json:"content"`
	Timestamp      time.Time   `json:"timestamp"`
	Direction      Direction   `json:"direction"`
	Type           MessageType `json:"type"`
	IsRead         bool        `json:"is_read"`
	IsFromMe       bool        `json:"is_from_me"`
}

// IsIncoming reports whether the message came from someone other than the user
func (m *Message) IsIncoming() bool {
	return m.Direction == DirectionIncoming && !m.IsFromMe
}

// Preview returns the content cut to n runes
func (m *Message) Preview(n int) string {
	return Truncate(m.Content, n)
}

// NewOutgoingMessage builds the record persisted after a successful send
func NewOutgoingMessage(conversationID, content string, at time.Time) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderName:     OutgoingSender,
		Content:        content,
		Timestamp:      at,
		Direction:      DirectionOutgoing,
		Type:           MessageTypeText,
		IsRead:         true,
		IsFromMe:       true,
	}
}

// NewIncomingMessage builds an unread incoming record from a connector read.
// When the connector did not supply a stable ID one is derived from the content.
func NewIncomingMessage(conversationID string, raw RawMessage, at time.Time) *Message {
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = at
	}
	id := raw.ID
	if id == "" {
		id = uuid.NewSHA1(incomingNamespace,
			[]byte(conversationID+"\x00"+raw.SenderName+"\x00"+raw.Content+"\x00"+raw.TimeText)).String()
	}
	msgType := raw.Type
	if msgType == "" {
		msgType = MessageTypeText
	}
	sender := raw.SenderName
	if sender == "" {
		sender = conversationID
	}
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		SenderName:     sender,
		Content:        raw.Content,
		Timestamp:      ts,
		Direction:      DirectionIncoming,
		Type:           msgType,
		IsRead:         false,
		IsFromMe:       false,
	}
}

// Truncate cuts s to at most n runes, appending "..." when cut
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
