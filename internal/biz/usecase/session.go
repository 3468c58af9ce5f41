package usecase

import (
	"sync"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
)

// SessionStore guards the session state shared by the decision engine and
// the utterance resolver. Every change goes through Update.
type SessionStore struct {
	mu    sync.Mutex
	state domain.SessionState
}

// NewSessionStore creates an empty session store
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// Get returns a snapshot of the state
func (s *SessionStore) Get() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.state)
}

// Update replaces the state with fn's result and returns it.
// fn runs under the lock and must not block on IO.
func (s *SessionStore) Update(fn func(domain.SessionState) domain.SessionState) domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = copyState(fn(copyState(s.state)))
	return copyState(s.state)
}

// SetPending records a message waiting for the user's reaction
func (s *SessionStore) SetPending(p domain.PendingReply) domain.SessionState {
	return s.Update(func(st domain.SessionState) domain.SessionState {
		return st.WithPending(p)
	})
}

// SetLastActive makes conversationID the target of the next quick reply
func (s *SessionStore) SetLastActive(conversationID string) domain.SessionState {
	return s.Update(func(st domain.SessionState) domain.SessionState {
		return st.WithLastActive(conversationID)
	})
}

// TakePending consumes the pending slot
func (s *SessionStore) TakePending() (domain.PendingReply, bool) {
	var taken domain.PendingReply
	var ok bool
	s.Update(func(st domain.SessionState) domain.SessionState {
		p, next, err := st.ConsumePending()
		if err != nil {
			return st
		}
		taken, ok = p, true
		return next
	})
	return taken, ok
}

// TakeLastActive consumes the last-active pointer
func (s *SessionStore) TakeLastActive() (string, bool) {
	var id string
	var ok bool
	s.Update(func(st domain.SessionState) domain.SessionState {
		var next domain.SessionState
		id, next, ok = st.ConsumeLastActive()
		return next
	})
	return id, ok
}

func copyState(st domain.SessionState) domain.SessionState {
	if st.Pending != nil {
		p := *st.Pending
		st.Pending = &p
	}
	return st
}
