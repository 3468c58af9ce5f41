package data

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
)

var (
	previewsBucket = []byte("previews")
	lastSeenBucket = []byte("last_seen")
)

// fingerprintRepo snapshots the detector's observed state to bbolt
type fingerprintRepo struct {
	db *bolt.DB
}

// NewFingerprintRepo opens (or creates) the state database
func NewFingerprintRepo(dbPath string) (repo.FingerprintRepo, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return &fingerprintRepo{db: db}, nil
}

// Load returns the last snapshot; unreadable entries are skipped
func (r *fingerprintRepo) Load(ctx context.Context) (*domain.ObservedState, error) {
	state := domain.NewObservedState()
	err := r.db.View(func(tx *bolt.Tx) error {
		load := func(name []byte, into map[string]string) error {
			b := tx.Bucket(name)
			if b == nil {
				return nil
			}
			return b.ForEach(func(k, v []byte) error {
				if len(k) == 0 || v == nil {
					return nil
				}
				into[string(k)] = string(v)
				return nil
			})
		}
		if err := load(previewsBucket, state.Previews); err != nil {
			return err
		}
		return load(lastSeenBucket, state.LastSeen)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load observed state: %w", err)
	}
	return state, nil
}

// Save replaces the snapshot in one transaction
func (r *fingerprintRepo) Save(ctx context.Context, state *domain.ObservedState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.db.Update(func(tx *bolt.Tx) error {
		store := func(name []byte, from map[string]string) error {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			b, err := tx.CreateBucket(name)
			if err != nil {
				return err
			}
			for k, v := range from {
				if k == "" {
					continue
				}
				if err := b.Put([]byte(k), []byte(v)); err != nil {
					return err
				}
			}
			return nil
		}
		if err := store(previewsBucket, state.Previews); err != nil {
			return err
		}
		return store(lastSeenBucket, state.LastSeen)
	})
	if err != nil {
		return fmt.Errorf("failed to save observed state: %w", err)
	}
	return nil
}

// Close closes the database
func (r *fingerprintRepo) Close() error {
	return r.db.Close()
}
