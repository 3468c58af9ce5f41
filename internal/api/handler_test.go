package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
	"github.com/DevRickLin/chat-relay/internal/biz/usecase"
	"github.com/DevRickLin/chat-relay/internal/data"
	"github.com/DevRickLin/chat-relay/internal/metrics"
)

type mockRelay struct {
	utterances []string
	health     domain.ConnectorHealth
	healthErr  error
}

func (m *mockRelay) HandleUtterance(ctx context.Context, text string) (*usecase.Resolution, error) {
	m.utterances = append(m.utterances, text)
	return &usecase.Resolution{Kind: usecase.ResolvedChat, Text: "echo: " + text}, nil
}

func (m *mockRelay) Health(ctx context.Context) (domain.ConnectorHealth, error) {
	return m.health, m.healthErr
}

type mockSender struct {
	sent []string
	fail error
}

func (m *mockSender) Dispatch(ctx context.Context, conversationID, text string) *usecase.SendReport {
	if m.fail != nil {
		return &usecase.SendReport{ConversationID: conversationID, State: usecase.SendFailed, Attempts: 3, Err: m.fail}
	}
	m.sent = append(m.sent, conversationID+"|"+text)
	return &usecase.SendReport{
		ConversationID: conversationID,
		State:          usecase.SendSucceeded,
		Attempts:       1,
		Message:        domain.NewOutgoingMessage(conversationID, text, time.Now()),
	}
}

func newTestStore(t *testing.T) repo.ChatStoreRepo {
	t.Helper()
	store, err := data.NewChatStoreRepo(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store repo.ChatStoreRepo, conv string, contents ...string) []*domain.Message {
	t.Helper()
	var out []*domain.Message
	base := time.Now().Add(-time.Hour)
	for i, c := range contents {
		msg := domain.NewIncomingMessage(conv, domain.RawMessage{SenderName: conv, Content: c}, base)
		msg.Timestamp = base.Add(time.Duration(i) * time.Minute)
		_, err := store.Save(context.Background(), msg)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHandleChats(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "Chen", "hello", "are you there?")
	seed(t, store, "Ana", "hi")
	h := NewServer(Deps{Store: store}, 0, zap.NewNop()).Handler()

	w := do(t, h, http.MethodGet, "/api/chats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Chats []domain.ConversationSummary `json:"chats"`
	}
	decode(t, w, &result)
	require.Len(t, result.Chats, 2)

	byID := map[string]domain.ConversationSummary{}
	for _, c := range result.Chats {
		byID[c.ConversationID] = c
	}
	assert.Equal(t, 2, byID["Chen"].UnreadCount)
	assert.Equal(t, "are you there?", byID["Chen"].LastPreview)

	w = do(t, h, http.MethodPost, "/api/chats", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleChatMessagesAndRead(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "Chen", "one", "two", "three")
	h := NewServer(Deps{Store: store}, 0, zap.NewNop()).Handler()

	w := do(t, h, http.MethodGet, "/api/chats/Chen/messages?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var result struct {
		Messages []domain.Message `json:"messages"`
	}
	decode(t, w, &result)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "three", result.Messages[0].Content)

	w = do(t, h, http.MethodPost, "/api/chats/Chen/read", "")
	require.Equal(t, http.StatusOK, w.Code)

	unread, err := store.CountUnread(context.Background(), "Chen")
	require.NoError(t, err)
	assert.Zero(t, unread)

	w = do(t, h, http.MethodGet, "/api/chats/Chen/members", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSearchAndUnread(t *testing.T) {
	store := newTestStore(t)
	msgs := seed(t, store, "Chen", "meet at 3pm", "bring the slides")
	h := NewServer(Deps{Store: store}, 0, zap.NewNop()).Handler()

	w := do(t, h, http.MethodGet, "/api/messages/search?q=slides", "")
	require.Equal(t, http.StatusOK, w.Code)
	var found struct {
		Messages []domain.Message `json:"messages"`
	}
	decode(t, w, &found)
	require.Len(t, found.Messages, 1)
	assert.Equal(t, "bring the slides", found.Messages[0].Content)

	w = do(t, h, http.MethodGet, "/api/messages/search", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/messages/"+msgs[0].ID+"/read", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/messages/unread", "")
	require.Equal(t, http.StatusOK, w.Code)
	var unread struct {
		Messages []domain.Message `json:"messages"`
	}
	decode(t, w, &unread)
	require.Len(t, unread.Messages, 1)
	assert.Equal(t, msgs[1].ID, unread.Messages[0].ID)

	w = do(t, h, http.MethodPost, "/api/messages/missing/read", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRecent(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "Chen", "meet at 3pm")
	seed(t, store, "Maria", "lunch?", "or dinner?")
	h := NewServer(Deps{Store: store}, 0, zap.NewNop()).Handler()

	w := do(t, h, http.MethodGet, "/api/messages/recent?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var recent struct {
		Messages []domain.Message `json:"messages"`
	}
	decode(t, w, &recent)
	require.Len(t, recent.Messages, 2)
	assert.Equal(t, "or dinner?", recent.Messages[0].Content)

	w = do(t, h, http.MethodPost, "/api/messages/recent", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleUtterance(t *testing.T) {
	relay := &mockRelay{}
	h := NewServer(Deps{Store: newTestStore(t), Relay: relay}, 0, zap.NewNop()).Handler()

	w := do(t, h, http.MethodPost, "/api/utterance", `{"text":"what time is it"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res usecase.Resolution
	decode(t, w, &res)
	assert.Equal(t, usecase.ResolvedChat, res.Kind)
	assert.Equal(t, "echo: what time is it", res.Text)
	assert.Equal(t, []string{"what time is it"}, relay.utterances)

	w = do(t, h, http.MethodPost, "/api/utterance", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/utterance", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSend(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "Chen Wei", "hello")
	sender := &mockSender{}
	h := NewServer(Deps{Store: store, Sender: sender}, 0, zap.NewNop()).Handler()

	// contact names resolve case-insensitively to the known conversation
	w := do(t, h, http.MethodPost, "/api/send", `{"conversation_id":"chen wei","text":"on my way"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp SendResponse
	decode(t, w, &resp)
	assert.Equal(t, "Chen Wei", resp.ConversationID)
	assert.Equal(t, "succeeded", resp.State)
	assert.Equal(t, []string{"Chen Wei|on my way"}, sender.sent)

	w = do(t, h, http.MethodPost, "/api/send", `{"conversation_id":"Chen Wei"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sender.fail = usecase.ErrSendExhausted
	w = do(t, h, http.MethodPost, "/api/send", `{"conversation_id":"Ana","text":"hi"}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, "failed", resp.State)
	assert.Equal(t, 3, resp.Attempts)
	assert.NotEmpty(t, resp.Error)
}

func TestRelayDisabled(t *testing.T) {
	h := NewServer(Deps{
		Store:      newTestStore(t),
		RelayError: errors.New("OPENAI_API_KEY is required"),
	}, 0, zap.NewNop()).Handler()

	w := do(t, h, http.MethodPost, "/api/utterance", `{"text":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = do(t, h, http.MethodPost, "/api/send", `{"conversation_id":"Chen","text":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var health HealthResponse
	decode(t, w, &health)
	assert.Equal(t, "down", health.Relay)
	assert.Equal(t, "OPENAI_API_KEY is required", health.Error)

	// store-backed endpoints keep working
	w = do(t, h, http.MethodGet, "/api/chats", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleHealth(t *testing.T) {
	relay := &mockRelay{health: domain.ConnectorHealth{BrowserRunning: true, LoggedIn: true, PhoneConnected: true}}
	h := NewServer(Deps{Store: newTestStore(t), Relay: relay}, 0, zap.NewNop()).Handler()

	w := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	decode(t, w, &health)
	assert.Equal(t, "ok", health.Status)
	require.NotNil(t, health.Connector)
	assert.True(t, health.Connector.PhoneConnected)

	relay.health.LoggedIn = false
	w = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	relay.healthErr = usecase.ErrConnectorClosed
	w = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	decode(t, w, &health)
	assert.Equal(t, usecase.ErrConnectorClosed.Error(), health.Error)
}

func TestHandleSessionAndNotifications(t *testing.T) {
	sessions := usecase.NewSessionStore()
	sessions.SetPending(domain.PendingReply{ConversationID: "Chen", SenderName: "Chen", OriginalMessage: "3pm?"})
	feed := data.NewNotificationFeed(10)
	for _, text := range []string{"first", "second", "third"} {
		require.NoError(t, feed.Notify(context.Background(), &domain.Notification{Kind: domain.NotifyNeedInput, Text: text}))
	}
	h := NewServer(Deps{Store: newTestStore(t), Sessions: sessions, Feed: feed}, 0, zap.NewNop()).Handler()

	w := do(t, h, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	var state domain.SessionState
	decode(t, w, &state)
	require.NotNil(t, state.Pending)
	assert.Equal(t, "3pm?", state.Pending.OriginalMessage)
	assert.Equal(t, "Chen", state.LastActive)

	w = do(t, h, http.MethodGet, "/api/notifications?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var notes struct {
		Notifications []domain.Notification `json:"notifications"`
	}
	decode(t, w, &notes)
	require.Len(t, notes.Notifications, 2)
	assert.Equal(t, "third", notes.Notifications[0].Text)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Surfaced(2)
	h := NewServer(Deps{Store: newTestStore(t), Metrics: m}, 0, zap.NewNop()).Handler()

	w := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "surfaced")
}
