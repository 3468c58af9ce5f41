package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
	"github.com/DevRickLin/chat-relay/internal/biz/usecase"
	"github.com/DevRickLin/chat-relay/internal/data"
	"github.com/DevRickLin/chat-relay/internal/metrics"
)

// ErrRelayDisabled is returned by endpoints that need the relay subsystem when it is not running
var ErrRelayDisabled = errors.New("relay subsystem is disabled")

// Relay is the part of the relay service the API drives
type Relay interface {
	HandleUtterance(ctx context.Context, text string) (*usecase.Resolution, error)
	Health(ctx context.Context) (domain.ConnectorHealth, error)
}

// Sender delivers a message the user addressed to a conversation directly
type Sender interface {
	Dispatch(ctx context.Context, conversationID, text string) *usecase.SendReport
}

// Deps are the components behind the API; Relay and Sender are nil when the relay is down
type Deps struct {
	Store    repo.ChatStoreRepo
	Relay    Relay
	Sender   Sender
	Sessions *usecase.SessionStore
	Feed     *data.NotificationFeed
	Metrics  *metrics.Metrics
	// RelayError explains why the relay is down
	RelayError error
}

// Server provides the local HTTP API used by the CLI and the MCP server
type Server struct {
	deps   Deps
	logger *zap.Logger

	server *http.Server
	port   int
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string                  `json:"status"`
	Relay     string                  `json:"relay"`
	Connector *domain.ConnectorHealth `json:"connector,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// SendRequest is the body of POST /api/send
type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// SendResponse is the result of POST /api/send
type SendResponse struct {
	ConversationID string          `json:"conversation_id"`
	State          string          `json:"state"`
	Attempts       int             `json:"attempts"`
	Message        *domain.Message `json:"message,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// UtteranceRequest is the body of POST /api/utterance
type UtteranceRequest struct {
	Text string `json:"text"`
}

// NewServer creates a new API server
func NewServer(deps Deps, port int, logger *zap.Logger) *Server {
	return &Server{
		deps:   deps,
		logger: logger,
		port:   port,
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat store
	mux.HandleFunc("/api/chats", s.handleChats)
	mux.HandleFunc("/api/chats/", s.handleChatItem)
	mux.HandleFunc("/api/messages/search", s.handleSearch)
	mux.HandleFunc("/api/messages/unread", s.handleUnread)
	mux.HandleFunc("/api/messages/recent", s.handleRecent)
	mux.HandleFunc("/api/messages/", s.handleMessageItem)

	// User input and sends
	mux.HandleFunc("/api/utterance", s.handleUtterance)
	mux.HandleFunc("/api/send", s.handleSend)

	// State
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/notifications", s.handleNotifications)

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.deps.Metrics.Handler())

	return mux
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting HTTP server", zap.Int("port", s.port))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ============ Chat Handlers ============

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chats, err := s.deps.Store.ListConversations(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if chats == nil {
		chats = []*domain.ConversationSummary{}
	}
	s.writeJSON(w, map[string]interface{}{"chats": chats})
}

func (s *Server) handleChatItem(w http.ResponseWriter, r *http.Request) {
	// Parse path: /api/chats/{id}/messages or /api/chats/{id}/read
	path := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	chatID, action := path[:idx], path[idx+1:]

	switch action {
	case "messages":
		s.handleChatMessages(w, r, chatID)
	case "read":
		s.handleChatRead(w, r, chatID)
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
	}
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request, chatID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	messages, err := s.deps.Store.ListByConversation(r.Context(), chatID, queryLimit(r, 20))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"conversation_id": chatID, "messages": nonNil(messages)})
}

func (s *Server) handleChatRead(w http.ResponseWriter, r *http.Request, chatID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n, err := s.deps.Store.MarkConversationRead(r.Context(), chatID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"conversation_id": chatID, "marked": n})
}

// ============ Message Handlers ============

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("q is required"))
		return
	}

	messages, err := s.deps.Store.Search(r.Context(), query, queryLimit(r, 20))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"query": query, "messages": nonNil(messages)})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	messages, err := s.deps.Store.ListUnread(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"messages": nonNil(messages)})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	messages, err := s.deps.Store.ListRecent(r.Context(), queryLimit(r, 20))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"messages": nonNil(messages)})
}

func (s *Server) handleMessageItem(w http.ResponseWriter, r *http.Request) {
	// Parse path: /api/messages/{id}/read
	path := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	id, ok := strings.CutSuffix(path, "/read")
	if !ok || id == "" {
		http.Error(w, "invalid path", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg, err := s.deps.Store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if msg == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("message %s not found", id))
		return
	}
	if err := s.deps.Store.MarkRead(r.Context(), id); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"id": id, "is_read": true})
}

// ============ Relay Handlers ============

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Relay == nil {
		s.writeError(w, http.StatusServiceUnavailable, ErrRelayDisabled)
		return
	}

	var req UtteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, domain.ErrEmptyMessage)
		return
	}

	res, err := s.deps.Relay.HandleUtterance(r.Context(), req.Text)
	if err != nil {
		s.logger.Warn("Utterance failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, res)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Sender == nil {
		s.writeError(w, http.StatusServiceUnavailable, ErrRelayDisabled)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.ConversationID == "" || strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("conversation_id and text are required"))
		return
	}

	// A contact name resolves to the known conversation it names
	conv := req.ConversationID
	if id, ok, err := s.deps.Store.FindConversation(r.Context(), conv); err == nil && ok {
		conv = id
	}

	report := s.deps.Sender.Dispatch(r.Context(), conv, req.Text)
	resp := SendResponse{
		ConversationID: conv,
		State:          report.State.String(),
		Attempts:       report.Attempts,
		Message:        report.Message,
	}
	if !report.OK() {
		if report.Err != nil {
			resp.Error = report.Err.Error()
		}
		s.writeJSONStatus(w, http.StatusBadGateway, resp)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Sessions == nil {
		s.writeJSON(w, domain.SessionState{})
		return
	}
	s.writeJSON(w, s.deps.Sessions.Get())
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	notes := []*domain.Notification{}
	if s.deps.Feed != nil {
		notes = append(notes, s.deps.Feed.Recent(queryLimit(r, 20))...)
	}
	s.writeJSON(w, map[string]interface{}{"notifications": notes})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Relay: "up"}

	switch {
	case s.deps.Relay == nil:
		resp.Status = "degraded"
		resp.Relay = "down"
		if s.deps.RelayError != nil {
			resp.Error = s.deps.RelayError.Error()
		}
	default:
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		health, err := s.deps.Relay.Health(ctx)
		if err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			break
		}
		resp.Connector = &health
		if !health.Healthy() {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSONStatus(w, code, resp)
}

// ============ Helpers ============

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSONStatus(w, code, map[string]string{"error": err.Error()})
}

func queryLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func nonNil(msgs []*domain.Message) []*domain.Message {
	if msgs == nil {
		return []*domain.Message{}
	}
	return msgs
}
