package mcp

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
)

// Handler answers MCP tool calls through the API client
type Handler struct {
	client *Client
}

// NewHandler creates a new MCP handler
func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// ChatSummary is one known conversation
type ChatSummary struct {
	ConversationID string `json:"conversation_id"`
	LastMessageAt  string `json:"last_message_at"`
	LastPreview    string `json:"last_preview"`
	MessageCount   int    `json:"message_count"`
	UnreadCount    int    `json:"unread_count"`
}

// MessageView is a stored chat message
type MessageView struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Content        string `json:"content"`
	Time           string `json:"time"`
	Direction      string `json:"direction"`
	Type           string `json:"type"`
	Read           bool   `json:"read"`
}

// ============ List Chats ============

// ListChatsInput is empty - no input needed
type ListChatsInput struct{}

// ListChatsOutput contains the known conversations
type ListChatsOutput struct {
	Chats []ChatSummary `json:"chats"`
}

func (h *Handler) ListChats(ctx context.Context, req *mcpsdk.CallToolRequest, input ListChatsInput) (*mcpsdk.CallToolResult, ListChatsOutput, error) {
	chats, err := h.client.ListChats(ctx)
	if err != nil {
		return nil, ListChatsOutput{}, err
	}

	out := ListChatsOutput{Chats: make([]ChatSummary, 0, len(chats))}
	for _, c := range chats {
		out.Chats = append(out.Chats, ChatSummary{
			ConversationID: c.ConversationID,
			LastMessageAt:  formatTime(c.LastMessageAt),
			LastPreview:    c.LastPreview,
			MessageCount:   c.MessageCount,
			UnreadCount:    c.UnreadCount,
		})
	}
	return nil, out, nil
}

// ============ Chat History ============

// GetChatHistoryInput is the input for relay_get_chat_history
type GetChatHistoryInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the conversation (contact or group name) to read"`
	Limit          int    `json:"limit,omitempty" jsonschema:"maximum number of messages to return (default 20)"`
}

// MessagesOutput contains a list of messages
type MessagesOutput struct {
	Messages []MessageView `json:"messages"`
}

func (h *Handler) GetChatHistory(ctx context.Context, req *mcpsdk.CallToolRequest, input GetChatHistoryInput) (*mcpsdk.CallToolResult, MessagesOutput, error) {
	if input.ConversationID == "" {
		return nil, MessagesOutput{}, errors.New("conversation_id is required")
	}

	msgs, err := h.client.GetChatHistory(ctx, input.ConversationID, limitOr(input.Limit, 20))
	if err != nil {
		return nil, MessagesOutput{}, err
	}
	return nil, MessagesOutput{Messages: views(msgs)}, nil
}

// ============ Search ============

// SearchMessagesInput is the input for relay_search_messages
type SearchMessagesInput struct {
	Query string `json:"query" jsonschema:"text to look for in message content"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of messages to return (default 20)"`
}

func (h *Handler) SearchMessages(ctx context.Context, req *mcpsdk.CallToolRequest, input SearchMessagesInput) (*mcpsdk.CallToolResult, MessagesOutput, error) {
	if input.Query == "" {
		return nil, MessagesOutput{}, errors.New("query is required")
	}

	msgs, err := h.client.SearchMessages(ctx, input.Query, limitOr(input.Limit, 20))
	if err != nil {
		return nil, MessagesOutput{}, err
	}
	return nil, MessagesOutput{Messages: views(msgs)}, nil
}

// ============ Send ============

// SendMessageInput is the input for relay_send_message
type SendMessageInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the conversation or contact name to send to"`
	Text           string `json:"text" jsonschema:"the message text, sent as written"`
}

// SendMessageOutput is the output for relay_send_message
type SendMessageOutput struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversation_id"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
}

func (h *Handler) SendMessage(ctx context.Context, req *mcpsdk.CallToolRequest, input SendMessageInput) (*mcpsdk.CallToolResult, SendMessageOutput, error) {
	if input.ConversationID == "" || input.Text == "" {
		return nil, SendMessageOutput{Success: false, Error: "conversation_id and text are required"}, nil
	}

	resp, err := h.client.SendMessage(ctx, input.ConversationID, input.Text)
	if err != nil {
		return nil, SendMessageOutput{Success: false, ConversationID: input.ConversationID, Error: err.Error()}, nil
	}
	return nil, SendMessageOutput{
		Success:        resp.Error == "",
		ConversationID: resp.ConversationID,
		Attempts:       resp.Attempts,
		Error:          resp.Error,
	}, nil
}

// ============ Session ============

// GetSessionInput is empty - no input needed
type GetSessionInput struct{}

// GetSessionOutput describes who the assistant is waiting on
type GetSessionOutput struct {
	Awaiting        bool   `json:"awaiting"`
	ConversationID  string `json:"conversation_id,omitempty"`
	SenderName      string `json:"sender_name,omitempty"`
	OriginalMessage string `json:"original_message,omitempty"`
	Since           string `json:"since,omitempty"`
	LastActive      string `json:"last_active,omitempty"`
}

func (h *Handler) GetSession(ctx context.Context, req *mcpsdk.CallToolRequest, input GetSessionInput) (*mcpsdk.CallToolResult, GetSessionOutput, error) {
	state, err := h.client.GetSession(ctx)
	if err != nil {
		return nil, GetSessionOutput{}, err
	}

	out := GetSessionOutput{Awaiting: state.Awaiting(), LastActive: state.LastActive}
	if p := state.Pending; p != nil {
		out.ConversationID = p.ConversationID
		out.SenderName = p.SenderName
		out.OriginalMessage = p.OriginalMessage
		out.Since = formatTime(p.CreatedAt)
	}
	return nil, out, nil
}

// ============ Helpers ============

func views(msgs []domain.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageView{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Sender:         m.SenderName,
			Content:        m.Content,
			Time:           formatTime(m.Timestamp),
			Direction:      string(m.Direction),
			Type:           string(m.Type),
			Read:           m.IsRead,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 200 {
		return 200
	}
	return limit
}
