package data

import (
	"errors"

	"github.com/DevRickLin/chat-relay/internal/biz/repo"
)

// Repositories contains the storage and completion repositories
type Repositories struct {
	ChatStore   repo.ChatStoreRepo
	Fingerprint repo.FingerprintRepo
	Completion  repo.CompletionRepo
}

// NewRepositories creates all repositories
func NewRepositories(chatDBPath, stateDBPath string, completion CompletionConfig) (*Repositories, error) {
	chatStore, err := NewChatStoreRepo(chatDBPath)
	if err != nil {
		return nil, err
	}

	fingerprints, err := NewFingerprintRepo(stateDBPath)
	if err != nil {
		chatStore.Close()
		return nil, err
	}

	return &Repositories{
		ChatStore:   chatStore,
		Fingerprint: fingerprints,
		Completion:  NewCompletionRepo(completion),
	}, nil
}

// Close closes both databases
func (r *Repositories) Close() error {
	return errors.Join(r.ChatStore.Close(), r.Fingerprint.Close())
}
