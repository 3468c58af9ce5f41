package data

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
)

// logNotifier writes notifications to the log
type logNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by the logger
func NewLogNotifier(logger *zap.Logger) repo.NotifierRepo {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Notify(ctx context.Context, note *domain.Notification) error {
	n.logger.Info(note.Title(),
		zap.String("kind", string(note.Kind)),
		zap.String("conversation", note.ConversationID),
		zap.String("sender", note.SenderName),
		zap.String("text", note.Text),
		zap.Bool("speak_aloud", note.SpeakAloud),
		zap.Int("unread", note.UnreadCount))
	return nil
}

// NotificationFeed keeps the most recent notifications in memory for the API
type NotificationFeed struct {
	mu    sync.RWMutex
	items []*domain.Notification
	next  int
	full  bool
}

// NewNotificationFeed creates a feed holding up to capacity notifications
func NewNotificationFeed(capacity int) *NotificationFeed {
	if capacity <= 0 {
		capacity = 100
	}
	return &NotificationFeed{items: make([]*domain.Notification, capacity)}
}

// Notify appends a notification, evicting the oldest when full
func (f *NotificationFeed) Notify(ctx context.Context, note *domain.Notification) error {
	cp := *note
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[f.next] = &cp
	f.next = (f.next + 1) % len(f.items)
	if f.next == 0 {
		f.full = true
	}
	return nil
}

// Recent returns up to limit notifications, newest first
func (f *NotificationFeed) Recent(limit int) []*domain.Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.next
	if f.full {
		n = len(f.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*domain.Notification, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (f.next - 1 - i + len(f.items)) % len(f.items)
		cp := *f.items[idx]
		out = append(out, &cp)
	}
	return out
}

// multiNotifier fans a notification out to every target
type multiNotifier struct {
	targets []repo.NotifierRepo
}

// NewMultiNotifier delivers to every non-nil target; one failing target does not stop the rest
func NewMultiNotifier(targets ...repo.NotifierRepo) repo.NotifierRepo {
	m := &multiNotifier{}
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
	return m
}

func (m *multiNotifier) Notify(ctx context.Context, note *domain.Notification) error {
	var errs []error
	for _, t := range m.targets {
		if err := t.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
