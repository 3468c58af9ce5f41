package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/DevRickLin/chat-relay/internal/api"
	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/usecase"
)

// Client is the HTTP client for the relay daemon's API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// APIError is a non-2xx API response
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// ============ Chat Operations ============

// ListChats lists known conversations, most recent first
func (c *Client) ListChats(ctx context.Context) ([]domain.ConversationSummary, error) {
	var result struct {
		Chats []domain.ConversationSummary `json:"chats"`
	}
	if err := c.get(ctx, "/api/chats", &result); err != nil {
		return nil, err
	}
	return result.Chats, nil
}

// GetChatHistory gets the newest messages of a conversation
func (c *Client) GetChatHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	var result struct {
		Messages []domain.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/chats/%s/messages?limit=%d", url.PathEscape(conversationID), limit)
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// MarkChatRead marks every message of a conversation read
func (c *Client) MarkChatRead(ctx context.Context, conversationID string) error {
	return c.post(ctx, fmt.Sprintf("/api/chats/%s/read", url.PathEscape(conversationID)), nil, nil)
}

// ============ Message Operations ============

// SearchMessages matches a substring of message content
func (c *Client) SearchMessages(ctx context.Context, query string, limit int) ([]domain.Message, error) {
	var result struct {
		Messages []domain.Message `json:"messages"`
	}
	q := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/api/messages/search?"+q.Encode(), &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// GetUnread lists unread incoming messages
func (c *Client) GetUnread(ctx context.Context) ([]domain.Message, error) {
	var result struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.get(ctx, "/api/messages/unread", &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// GetRecent lists the newest messages across conversations
func (c *Client) GetRecent(ctx context.Context, limit int) ([]domain.Message, error) {
	var result struct {
		Messages []domain.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/messages/recent?limit=%d", limit)
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// ============ Relay Operations ============

// SendMessage sends text to a conversation or known contact name
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) (*api.SendResponse, error) {
	body := api.SendRequest{ConversationID: conversationID, Text: text}
	status, respBody, err := c.do(ctx, http.MethodPost, "/api/send", body)
	if err != nil {
		return nil, err
	}
	// a failed send still carries its report
	if status != http.StatusOK && status != http.StatusBadGateway {
		return nil, &APIError{Status: status, Message: errorMessage(respBody)}
	}
	var resp api.SendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// Utterance hands text to the relay as if the user said it
func (c *Client) Utterance(ctx context.Context, text string) (*usecase.Resolution, error) {
	var res usecase.Resolution
	if err := c.post(ctx, "/api/utterance", api.UtteranceRequest{Text: text}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetSession gets the pending-reply state
func (c *Client) GetSession(ctx context.Context) (*domain.SessionState, error) {
	var state domain.SessionState
	if err := c.get(ctx, "/api/session", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetNotifications gets the most recent notifications, newest first
func (c *Client) GetNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	var result struct {
		Notifications []domain.Notification `json:"notifications"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/notifications?limit=%d", limit), &result); err != nil {
		return nil, err
	}
	return result.Notifications, nil
}

// Health gets the daemon health; a degraded daemon is not an error
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var health api.HealthResponse
	status, body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusServiceUnavailable {
		return nil, &APIError{Status: status, Message: errorMessage(body)}
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &health, nil
}

// ============ HTTP Helpers ============

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	return c.call(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.call(ctx, http.MethodPost, path, body, result)
}

func (c *Client) call(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	status, respBody, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &APIError{Status: status, Message: errorMessage(respBody)}
	}
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
