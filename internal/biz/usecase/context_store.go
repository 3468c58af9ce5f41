package usecase

import (
	"strings"
	"sync"
	"time"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
)

// UserContextHorizon is how far back user utterances count as decision context
const UserContextHorizon = 5 * time.Minute

const (
	noHistoryText     = "No previous conversation history with this contact."
	noUserContextText = "No recent user context."
	historyHeader     = "RECENT CONVERSATION HISTORY:"
)

// ContextConfig contains context store sizes
type ContextConfig struct {
	WindowSize    int // lines kept per conversation
	PoolCapacity  int // user utterances kept
	AssistantName string
}

// DefaultContextConfig is the default context configuration
var DefaultContextConfig = ContextConfig{
	WindowSize:    50,
	PoolCapacity:  30,
	AssistantName: "Friday",
}

type utterance struct {
	text string
	at   time.Time
}

// ContextStore keeps a bounded line window per conversation and a bounded
// pool of things the user told the assistant
type ContextStore struct {
	mu      sync.RWMutex
	config  ContextConfig
	windows map[string]*ring[string]
	pool    *ring[utterance]
	now     func() time.Time
}

// NewContextStore creates a new context store
func NewContextStore(config ContextConfig) *ContextStore {
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultContextConfig.WindowSize
	}
	if config.PoolCapacity <= 0 {
		config.PoolCapacity = DefaultContextConfig.PoolCapacity
	}
	if config.AssistantName == "" {
		config.AssistantName = DefaultContextConfig.AssistantName
	}
	return &ContextStore{
		config:  config,
		windows: make(map[string]*ring[string]),
		pool:    newRing[utterance](config.PoolCapacity),
		now:     time.Now,
	}
}

// Append pushes a tagged line onto a conversation's window, evicting the oldest past capacity
func (s *ContextStore) Append(conversationID, line string, direction domain.Direction) {
	tag := "[THEM] "
	if direction == domain.DirectionOutgoing {
		tag = "[YOU] "
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[conversationID]
	if !ok {
		w = newRing[string](s.config.WindowSize)
		s.windows[conversationID] = w
	}
	w.push(tag + line)
}

// History returns a conversation's lines, oldest first
func (s *ContextStore) History(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[conversationID]
	if !ok {
		return nil
	}
	return w.items()
}

// FormattedHistory renders a conversation's window as one block
func (s *ContextStore) FormattedHistory(conversationID string) string {
	lines := s.History(conversationID)
	if len(lines) == 0 {
		return noHistoryText
	}
	return historyHeader + "\n" + strings.Join(lines, "\n")
}

// AppendUserUtterance records something the user said to the assistant
func (s *ContextStore) AppendUserUtterance(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.push(utterance{text: text, at: s.now()})
}

// RecentUtterances returns pooled utterances newer than the horizon, oldest first
func (s *ContextStore) RecentUtterances() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-UserContextHorizon)
	var out []string
	for _, u := range s.pool.items() {
		if u.at.After(cutoff) {
			out = append(out, u.text)
		}
	}
	return out
}

// RecentUserContext renders the recent utterances for a prompt
func (s *ContextStore) RecentUserContext() string {
	recent := s.RecentUtterances()
	if len(recent) == 0 {
		return noUserContextText
	}
	var sb strings.Builder
	sb.WriteString("WHAT USER TOLD ")
	sb.WriteString(strings.ToUpper(s.config.AssistantName))
	sb.WriteString(" RECENTLY:")
	for _, text := range recent {
		sb.WriteString("\n- ")
		sb.WriteString(text)
	}
	return sb.String()
}

// PoolSize returns the number of stored utterances, including stale ones
func (s *ContextStore) PoolSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool.len()
}

// ring is a fixed-capacity FIFO that overwrites its oldest entry
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) items() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring[T]) len() int {
	return r.n
}
