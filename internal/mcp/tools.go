package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Tool names
const (
	ToolListChats      = "relay_list_chats"
	ToolGetChatHistory = "relay_get_chat_history"
	ToolSearchMessages = "relay_search_messages"
	ToolSendMessage    = "relay_send_message"
	ToolGetSession     = "relay_get_session"
)

// Server exposes the relay's chat store and send path as MCP tools
type Server struct {
	server *mcpsdk.Server
	logger *zap.Logger
}

// NewServer creates the MCP server backed by the daemon API client
func NewServer(client *Client, version string, logger *zap.Logger) *Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "chat-relay",
		Version: version,
	}, nil)

	registerTools(server, NewHandler(client))
	return &Server{server: server, logger: logger}
}

// registerTools registers all relay MCP tools
func registerTools(server *mcpsdk.Server, h *Handler) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolListChats,
		Description: "List the WhatsApp conversations the relay has seen, most recent first, with unread counts and the last message preview.",
	}, h.ListChats)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolGetChatHistory,
		Description: "Get the newest stored messages of one conversation. Use the conversation_id returned by relay_list_chats.",
	}, h.GetChatHistory)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolSearchMessages,
		Description: "Search stored messages across all conversations for a piece of text.",
	}, h.SearchMessages)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolSendMessage,
		Description: "Send a WhatsApp message as the user. The text is sent exactly as written, so only use this when the user asked for it.",
	}, h.SendMessage)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolGetSession,
		Description: "Show which incoming message, if any, the assistant is waiting for the user to answer.",
	}, h.GetSession)
}

// Run serves MCP over stdio until ctx is done or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Serving MCP over stdio")
	return s.server.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect serves one session over the given transport
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}
