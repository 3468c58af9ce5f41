package domain

// ObservedState is what the change detector remembers between polls
type ObservedState struct {
	// Previews maps a conversation to the last preview seen in the chat list
	Previews map[string]string `json:"previews"`
	// LastSeen maps a conversation to the content of the last message surfaced from it
	LastSeen map[string]string `json:"last_seen"`
}

// NewObservedState creates an empty state
func NewObservedState() *ObservedState {
	return &ObservedState{
		Previews: make(map[string]string),
		LastSeen: make(map[string]string),
	}
}

// Clone returns a deep copy
func (s *ObservedState) Clone() *ObservedState {
	c := NewObservedState()
	for k, v := range s.Previews {
		c.Previews[k] = v
	}
	for k, v := range s.LastSeen {
		c.LastSeen[k] = v
	}
	return c
}
