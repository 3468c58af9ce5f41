package data

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
)

func newTestChatStore(t *testing.T) repo.ChatStoreRepo {
	t.Helper()
	store, err := NewChatStoreRepo(filepath.Join(t.TempDir(), "db", "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func msgAt(conv, sender, content string, at time.Time) *domain.Message {
	return domain.NewIncomingMessage(conv, domain.RawMessage{SenderName: sender, Content: content, Timestamp: at}, at)
}

func TestChatStore_SaveIsIdempotent(t *testing.T) {
	store := newTestChatStore(t)
	ctx := context.Background()
	msg := msgAt("Chen", "Chen", "Can we meet at 3pm?", time.Now())

	inserted, err := store.Save(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Save(ctx, msg)
	require.NoError(t, err)
	assert.False(t, inserted, "second save of the same id must be ignored")

	ok, err := store.Exists(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, msg.Content, got.Content)
	assert.Equal(t, domain.DirectionIncoming, got.Direction)
	assert.Equal(t, msg.Timestamp.UnixMilli(), got.Timestamp.UnixMilli())
	assert.False(t, got.IsRead)

	missing, err := store.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChatStore_Queries(t *testing.T) {
	store := newTestChatStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	msgs := []*domain.Message{
		msgAt("Chen", "Chen", "first", base),
		msgAt("Chen", "Chen", "second 50%_off", base.Add(time.Minute)),
		msgAt("Team", "Ana", "standup moved", base.Add(2*time.Minute)),
		domain.NewOutgoingMessage("Chen", "ok see you", base.Add(3*time.Minute)),
	}
	for _, m := range msgs {
		_, err := store.Save(ctx, m)
		require.NoError(t, err)
	}

	byConv, err := store.ListByConversation(ctx, "Chen", 10)
	require.NoError(t, err)
	require.Len(t, byConv, 3)
	assert.Equal(t, "ok see you", byConv[0].Content, "newest first")
	assert.True(t, byConv[0].IsFromMe)

	limited, err := store.ListByConversation(ctx, "Chen", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	recent, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "standup moved", recent[1].Content)

	unread, err := store.ListUnread(ctx)
	require.NoError(t, err)
	require.Len(t, unread, 3)
	assert.Equal(t, "first", unread[0].Content, "oldest first")

	found, err := store.Search(ctx, "50%_", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "second 50%_off", found[0].Content)

	none, err := store.Search(ctx, "%", 10)
	require.NoError(t, err)
	assert.Len(t, none, 1, "wildcards are matched literally")

	n, err := store.CountUnread(ctx, "Chen")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	convs, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "Chen", convs[0].ConversationID)
	assert.Equal(t, 3, convs[0].MessageCount)
	assert.Equal(t, 2, convs[0].UnreadCount)
	assert.Equal(t, "ok see you", convs[0].LastPreview)
}

func TestChatStore_MarkRead(t *testing.T) {
	store := newTestChatStore(t)
	ctx := context.Background()
	now := time.Now()
	a := msgAt("Chen", "Chen", "a", now)
	b := msgAt("Chen", "Chen", "b", now.Add(time.Second))
	for _, m := range []*domain.Message{a, b} {
		_, err := store.Save(ctx, m)
		require.NoError(t, err)
	}

	require.NoError(t, store.MarkRead(ctx, a.ID))
	n, err := store.CountUnread(ctx, "Chen")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	changed, err := store.MarkConversationRead(ctx, "Chen")
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	n, err = store.CountUnread(ctx, "Chen")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChatStore_FindConversation(t *testing.T) {
	store := newTestChatStore(t)
	ctx := context.Background()
	_, err := store.Save(ctx, msgAt("Family Group", "Mom", "dinner at 7", time.Now()))
	require.NoError(t, err)

	id, ok, err := store.FindConversation(ctx, "family group")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Family Group", id)

	id, ok, err = store.FindConversation(ctx, "MOM")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Family Group", id)

	_, ok, err = store.FindConversation(ctx, "stranger")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.FindConversation(ctx, "  ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChatStore_PruneBefore(t *testing.T) {
	store := newTestChatStore(t)
	ctx := context.Background()
	now := time.Now()
	_, err := store.Save(ctx, msgAt("Chen", "Chen", "old", now.AddDate(0, 0, -40)))
	require.NoError(t, err)
	_, err = store.Save(ctx, msgAt("Chen", "Chen", "new", now))
	require.NoError(t, err)

	deleted, err := store.PruneBefore(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	left, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].Content)
}

func TestChatStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.db")
	ctx := context.Background()

	store, err := NewChatStoreRepo(path)
	require.NoError(t, err)
	msg := msgAt("Chen", "Chen", "hello", time.Now())
	_, err = store.Save(ctx, msg)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewChatStoreRepo(path)
	require.NoError(t, err)
	defer reopened.Close()

	ok, err := reopened.Exists(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`a%b_c\d`); got != `a\%b\_c\\d` {
		t.Errorf("escapeLike = %q", got)
	}
	if sqlLimit(0) != -1 || sqlLimit(5) != 5 {
		t.Error("sqlLimit should map non-positive limits to -1")
	}
}
