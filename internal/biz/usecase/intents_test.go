package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
)

func TestDateTimeIntent(t *testing.T) {
	i := &DateTimeIntent{now: func() time.Time { return time.Date(2025, 1, 6, 15, 4, 0, 0, time.UTC) }}

	tests := []struct {
		text    string
		want    string
		handled bool
	}{
		{"what's the date", "It's Monday, January 06, 2025", true},
		{"What day is it today?", "It's Monday, January 06, 2025", true},
		{"what time is it", "It's 03:04 PM", true},
		{"What's the time?", "It's 03:04 PM", true},
		{"what's the weather", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, handled, err := i.Handle(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.handled, handled)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendCommandIntent(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"send a message to Chen: running late", "Chen|running late"},
		{"Send a WhatsApp message to Chen : see you at 10:30", "Chen|see you at 10:30"},
		{"whatsapp Maria: happy birthday!", "Maria|happy birthday!"},
		{"message Chen on whatsapp: call me", "Chen|call me"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			conn := &fakeConnector{}
			store := newFakeStore()
			contexts := NewContextStore(DefaultContextConfig)
			d := NewDispatcher(NewConnectorSession(conn), store, DefaultRetryPolicy, zap.NewNop(), nil)
			i := NewSendCommandIntent(d, store, contexts)

			reply, handled, err := i.Handle(context.Background(), tt.text)

			require.NoError(t, err)
			require.True(t, handled)
			assert.Equal(t, []string{tt.want}, conn.Sends())
			assert.True(t, strings.HasPrefix(reply, "Sent to "))
			assert.Len(t, contexts.History(strings.Split(tt.want, "|")[0]), 1)
		})
	}
}

func TestSendCommandIntent_NotACommand(t *testing.T) {
	i := NewSendCommandIntent(nil, newFakeStore(), NewContextStore(DefaultContextConfig))
	_, handled, err := i.Handle(context.Background(), "send me the report later")
	require.NoError(t, err)
	assert.False(t, handled)
}

func seedHistory(store *fakeStore, conv string, n int) {
	base := time.Now().Add(-time.Hour)
	for k := 0; k < n; k++ {
		raw := domain.RawMessage{SenderName: conv, Content: fmt.Sprintf("message %d about dinner", k), Timestamp: base.Add(time.Duration(k) * time.Minute)}
		_, _ = store.Save(context.Background(), domain.NewIncomingMessage(conv, raw, time.Now()))
	}
	_, _ = store.Save(context.Background(), domain.NewOutgoingMessage(conv, "my own reply about dinner", time.Now()))
}

func TestHistoryIntent_FromContact(t *testing.T) {
	store := newFakeStore()
	seedHistory(store, "Chen", 7)
	i := NewHistoryIntent(store)

	for _, text := range []string{"what did chen say?", "show messages from Chen", "check Chen's messages", "read messages from chen"} {
		reply, handled, err := i.Handle(context.Background(), text)

		require.NoError(t, err, text)
		require.True(t, handled, text)
		assert.True(t, strings.HasPrefix(reply, "Messages from "), text)
		assert.Contains(t, reply, "message 6 about dinner", "newest first")
		assert.NotContains(t, reply, "my own reply")
		assert.Contains(t, reply, "... and 2 more")
		assert.Equal(t, 1+historyResultLimit+1, len(strings.Split(reply, "\n")))
	}
}

func TestHistoryIntent_UnknownContact(t *testing.T) {
	i := NewHistoryIntent(newFakeStore())
	reply, handled, err := i.Handle(context.Background(), "what did Bob say")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "No messages from Bob.", reply)
}

func TestHistoryIntent_Search(t *testing.T) {
	store := newFakeStore()
	seedHistory(store, "Chen", 2)
	i := NewHistoryIntent(store)

	reply, handled, err := i.Handle(context.Background(), "search messages for dinner")

	require.NoError(t, err)
	require.True(t, handled)
	assert.True(t, strings.HasPrefix(reply, `Found 3 messages matching "dinner":`))

	reply, _, _ = i.Handle(context.Background(), "search whatsapp for pizza")
	assert.Equal(t, `No messages found matching "pizza".`, reply)
}

func TestFormatMessageList_TruncatesContent(t *testing.T) {
	long := strings.Repeat("x", 150)
	msgs := []*domain.Message{{SenderName: "Chen", Content: long, Timestamp: time.Now()}}

	out := formatMessageList("Header", msgs)

	assert.Contains(t, out, strings.Repeat("x", 100)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 101))
}
