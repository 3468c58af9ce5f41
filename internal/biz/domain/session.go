package domain

import (
	"errors"
	"time"
)

// ErrNoPendingReply is returned when there is no reply awaiting the user
var ErrNoPendingReply = errors.New("no pending reply")

// PendingReply is the single external message the assistant is waiting on
type PendingReply struct {
	ConversationID  string    `json:"conversation_id"`
	SenderName      string    `json:"sender_name"`
	OriginalMessage string    `json:"original_message"`
	Awaiting        bool      `json:"awaiting"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionState holds the two pointers that steer how the next user utterance
// is interpreted. It is a value: transitions return a new state.
type SessionState struct {
	// Pending is the explicit pending-reply slot
	Pending *PendingReply `json:"pending,omitempty"`
	// LastActive is the conversation most recently brought to the user's attention
	LastActive string `json:"last_active,omitempty"`
}

// Awaiting reports whether the next qualifying utterance is a reply
func (s SessionState) Awaiting() bool {
	return s.Pending != nil && s.Pending.Awaiting
}

// WithPending sets the pending slot and makes its conversation the last active one
func (s SessionState) WithPending(p PendingReply) SessionState {
	p.Awaiting = true
	s.Pending = &p
	s.LastActive = p.ConversationID
	return s
}

// WithLastActive moves the last-active pointer without touching the slot
func (s SessionState) WithLastActive(conversationID string) SessionState {
	s.LastActive = conversationID
	return s
}

// ConsumePending takes the awaiting reply out of the slot. The slot is empty
// afterwards whatever the caller does with the reply. The last-active
// pointer is left alone; it has its own lifetime.
func (s SessionState) ConsumePending() (PendingReply, SessionState, error) {
	if !s.Awaiting() {
		return PendingReply{}, s, ErrNoPendingReply
	}
	p := *s.Pending
	p.Awaiting = false
	s.Pending = nil
	return p, s, nil
}

// ConsumeLastActive takes the last-active pointer, clearing it
func (s SessionState) ConsumeLastActive() (string, SessionState, bool) {
	if s.LastActive == "" {
		return "", s, false
	}
	id := s.LastActive
	s.LastActive = ""
	return id, s, true
}
