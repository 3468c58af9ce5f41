package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"
)

// Message is a text message received from the owner's chat
type Message struct {
	ChatID     string
	MsgID      string
	MsgType    string // text, post
	ChatType   string // p2p, group
	SenderID   string // open_id
	Content    string
	CreateTime time.Time
}

// MessageHandler is the callback for received messages
type MessageHandler func(ctx context.Context, msg *Message)

// Client is the Feishu API client
type Client struct {
	appID     string
	appSecret string
	larkCli   *lark.Client
	onMessage MessageHandler
	logger    *zap.Logger
}

// NewClient creates a new Feishu client
func NewClient(appID, appSecret string, logger *zap.Logger) *Client {
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		larkCli:   lark.NewClient(appID, appSecret),
		logger:    logger,
	}
}

// OnMessage sets the message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// Start connects via WebSocket and blocks until ctx is done
func (c *Client) Start(ctx context.Context) error {
	// Must return quickly so the SDK can ACK, otherwise Feishu redelivers
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
			go c.handleMessage(ctx, event)
			return nil
		})

	wsCli := larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	c.logger.Info("Starting WebSocket connection")

	errCh := make(chan error, 1)
	go func() { errCh <- wsCli.Start(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("feishu websocket: %w", err)
	}
}

func (c *Client) handleMessage(ctx context.Context, event *larkim.P2MessageReceiveV1) {
	if event.Event == nil || event.Event.Message == nil {
		return
	}
	msg, ok := parseEvent(event)
	if !ok {
		return
	}
	c.logger.Debug("Message received",
		zap.String("chat", msg.ChatID),
		zap.String("type", msg.MsgType),
		zap.String("content", truncate(msg.Content, 50)))

	if c.onMessage != nil {
		c.onMessage(ctx, msg)
	}
}

// parseEvent converts a receive event into a Message. Bot messages and
// unsupported types are dropped.
func parseEvent(event *larkim.P2MessageReceiveV1) (*Message, bool) {
	raw := event.Event.Message
	sender := event.Event.Sender
	if sender != nil && sender.SenderType != nil && *sender.SenderType == "app" {
		return nil, false
	}
	if raw.ChatId == nil || raw.MessageId == nil || raw.MessageType == nil || raw.Content == nil {
		return nil, false
	}

	msg := &Message{
		ChatID:  *raw.ChatId,
		MsgID:   *raw.MessageId,
		MsgType: *raw.MessageType,
	}
	if raw.ChatType != nil {
		msg.ChatType = *raw.ChatType
	}
	if raw.CreateTime != nil {
		if ms, err := strconv.ParseInt(*raw.CreateTime, 10, 64); err == nil {
			msg.CreateTime = time.UnixMilli(ms)
		}
	}
	if sender != nil && sender.SenderId != nil && sender.SenderId.OpenId != nil {
		msg.SenderID = *sender.SenderId.OpenId
	}

	switch msg.MsgType {
	case "text":
		msg.Content = parseTextContent(*raw.Content)
	case "post":
		msg.Content = parsePostContent(*raw.Content)
	default:
		return nil, false
	}
	msg.Content = strings.TrimSpace(msg.Content)
	return msg, msg.Content != ""
}

func parseTextContent(content string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return parsed.Text
}

// parsePostContent flattens the text runs of a rich-text post
func parsePostContent(content string) string {
	var post struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag  string `json:"tag"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &post); err != nil {
		return ""
	}

	var lines []string
	if post.Title != "" {
		lines = append(lines, post.Title)
	}
	for _, para := range post.Content {
		var sb strings.Builder
		for _, el := range para {
			if el.Tag == "text" || el.Tag == "a" {
				sb.WriteString(el.Text)
			}
		}
		if sb.Len() > 0 {
			lines = append(lines, sb.String())
		}
	}
	return strings.Join(lines, "\n")
}

// SendText sends a text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	contentJSON, _ := json.Marshal(map[string]string{"text": text})

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(contentJSON)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: %s", resp.Msg)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
