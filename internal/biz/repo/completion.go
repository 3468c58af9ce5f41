package repo

import "context"

// Role is the author of a completion turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a completion request
type Turn struct {
	Role    Role
	Content string
}

// CompletionRepo is the language model interface
type CompletionRepo interface {
	// Complete returns the model's answer to the turns
	// A deadline on ctx, or the repo's own timeout, bounds the call
	Complete(ctx context.Context, turns []Turn) (string, error)
}
