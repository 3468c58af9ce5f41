package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/usecase"
	"github.com/DevRickLin/chat-relay/internal/infra/feishu"
)

// MessageSource delivers the owner's Feishu messages
type MessageSource interface {
	OnMessage(handler feishu.MessageHandler)
	Start(ctx context.Context) error
	SendText(ctx context.Context, chatID, text string) error
}

// UtteranceHandler resolves one user utterance
type UtteranceHandler interface {
	HandleUtterance(ctx context.Context, text string) (*usecase.Resolution, error)
}

// seenTTL is how long a message ID is remembered for deduplication
const seenTTL = 5 * time.Minute

// FeishuServer turns the owner's direct messages into utterances and replies with the resolution
type FeishuServer struct {
	client      MessageSource
	relay       UtteranceHandler
	ownerChatID string
	logger      *zap.Logger

	// utterances resolve one at a time, in arrival order
	handleMu sync.Mutex

	// Message deduplication cache
	seenMsgsMu sync.Mutex
	seenMsgs   map[string]time.Time // msgID -> timestamp

	now func() time.Time
}

// NewFeishuServer creates a new Feishu server. With an empty ownerChatID every
// direct message is accepted.
func NewFeishuServer(client MessageSource, relay UtteranceHandler, ownerChatID string, logger *zap.Logger) *FeishuServer {
	return &FeishuServer{
		client:      client,
		relay:       relay,
		ownerChatID: ownerChatID,
		logger:      logger,
		seenMsgs:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// Start listens for messages until ctx is done
func (s *FeishuServer) Start(ctx context.Context) error {
	s.client.OnMessage(s.handleMessage)
	return s.client.Start(ctx)
}

// handleMessage handles Feishu messages
func (s *FeishuServer) handleMessage(ctx context.Context, msg *feishu.Message) {
	logger := s.logger.With(zap.String("chat_id", msg.ChatID), zap.String("msg_id", msg.MsgID))

	if !s.accepts(msg) {
		logger.Debug("Ignoring message outside the owner chat", zap.String("chat_type", msg.ChatType))
		return
	}

	// Message deduplication: Feishu redelivers events that were not ACKed in time
	if !s.markMessageSeen(msg.MsgID) {
		logger.Debug("Duplicate message ignored")
		return
	}

	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	logger.Info("Received utterance", zap.Int("length", len(msg.Content)))

	res, err := s.relay.HandleUtterance(ctx, msg.Content)
	if err != nil {
		logger.Warn("Handle utterance error", zap.Error(err))
		s.reply(ctx, msg.ChatID, "Sorry, I could not handle that: "+err.Error())
		return
	}
	if res == nil || res.Text == "" {
		return
	}
	s.reply(ctx, msg.ChatID, res.Text)
}

func (s *FeishuServer) accepts(msg *feishu.Message) bool {
	if msg.Content == "" {
		return false
	}
	if s.ownerChatID != "" {
		return msg.ChatID == s.ownerChatID
	}
	return msg.ChatType == "p2p"
}

// reply sends a reply
func (s *FeishuServer) reply(ctx context.Context, chatID, text string) {
	if err := s.client.SendText(ctx, chatID, text); err != nil {
		s.logger.Warn("Failed to send reply", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// markMessageSeen records a message ID; it returns false if it was already seen
func (s *FeishuServer) markMessageSeen(msgID string) bool {
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()

	now := s.now()
	if ts, exists := s.seenMsgs[msgID]; exists && now.Sub(ts) < seenTTL {
		return false
	}
	s.seenMsgs[msgID] = now

	// Clean up expired records when marking new messages
	cutoff := now.Add(-seenTTL)
	for id, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, id)
		}
	}
	return true
}
