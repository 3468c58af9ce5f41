package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
	"github.com/DevRickLin/chat-relay/internal/metrics"
)

// ResolutionKind is the path that handled a user utterance
type ResolutionKind string

const (
	ResolvedTell         ResolutionKind = "tell"
	ResolvedPendingReply ResolutionKind = "pending-reply"
	ResolvedIntent       ResolutionKind = "intent"
	ResolvedQuickReply   ResolutionKind = "quick-reply"
	ResolvedChat         ResolutionKind = "chat"
)

// Resolution is the answer to a user utterance
type Resolution struct {
	Kind           ResolutionKind         `json:"kind"`
	Intent         string                 `json:"intent,omitempty"`
	Text           string                 `json:"text"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Sent           []string               `json:"sent,omitempty"` // conversations a message went to
	Directives     []domain.SendDirective `json:"directives,omitempty"`
}

// ResolverConfig contains utterance resolution settings
type ResolverConfig struct {
	// RewriteTemplate placeholders: {{history}} {{sender}} {{original_message}} {{user_text}}
	RewriteTemplate    string
	ChatSystemPrompt   string
	MessagingHint      string
	ChatMemoryTurns    int
	QuickReplyPrefix   string
	QuickReplyMaxWords int
	ExcludedTellWords  []string
	CommandKeywords    []string
}

var tellRegex = regexp.MustCompile(`(?is)^\s*tell\s+([^,\s]+)[,\s]\s*(.+?)\s*$`)

// Resolver interprets user utterances in priority order: tell directive,
// pending reply, intents, quick reply, general chat.
type Resolver struct {
	config     ResolverConfig
	completion repo.CompletionRepo
	store      repo.ChatStoreRepo
	contexts   *ContextStore
	sessions   *SessionStore
	dispatcher *Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics

	excluded map[string]struct{}
	keywords []string
	external []IntentHandler
	builtins []IntentHandler

	memMu  sync.Mutex
	memory []repo.Turn

	now func() time.Time
}

// NewResolver creates a resolver with the built-in intents
func NewResolver(
	config ResolverConfig,
	completion repo.CompletionRepo,
	store repo.ChatStoreRepo,
	contexts *ContextStore,
	sessions *SessionStore,
	dispatcher *Dispatcher,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Resolver {
	if config.QuickReplyMaxWords <= 0 {
		config.QuickReplyMaxWords = 15
	}
	if config.ChatMemoryTurns <= 0 {
		config.ChatMemoryTurns = 100
	}
	r := &Resolver{
		config:     config,
		completion: completion,
		store:      store,
		contexts:   contexts,
		sessions:   sessions,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
		excluded:   make(map[string]struct{}),
		now:        time.Now,
	}
	for _, w := range config.ExcludedTellWords {
		r.excluded[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	for _, k := range config.CommandKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			r.keywords = append(r.keywords, k)
		}
	}
	r.builtins = []IntentHandler{
		NewDateTimeIntent(),
		NewSendCommandIntent(dispatcher, store, contexts),
		NewHistoryIntent(store),
	}
	return r
}

// Register adds an external intent handler ahead of the built-ins
func (r *Resolver) Register(h IntentHandler) {
	r.external = append(r.external, h)
}

// Resolve handles one user utterance
func (r *Resolver) Resolve(ctx context.Context, text string) (*Resolution, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}

	res, err := r.resolve(ctx, text)
	if res != nil {
		r.metrics.Resolution(string(res.Kind))
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, text string) (*Resolution, error) {
	// 1. tell <name> <text>
	if name, body, ok := r.matchTell(text); ok {
		return r.tell(ctx, name, body)
	}

	// 2. pending reply slot, consumed before any IO
	if pending, ok := r.sessions.TakePending(); ok {
		return r.replyPending(ctx, pending, text)
	}

	// 3. intents
	for _, h := range append(append([]IntentHandler{}, r.external...), r.builtins...) {
		reply, handled, err := h.Handle(ctx, text)
		if !handled {
			continue
		}
		if err != nil {
			r.logger.Warn("Intent failed", zap.String("intent", h.Name()), zap.Error(err))
		}
		return &Resolution{Kind: ResolvedIntent, Intent: h.Name(), Text: reply}, nil
	}

	// 4. quick reply to the last active conversation
	if r.isQuickReply(text) {
		if conv, ok := r.sessions.TakeLastActive(); ok {
			return r.quickReply(ctx, conv, text), nil
		}
	}

	// 5. general chat
	return r.chat(ctx, text)
}

func (r *Resolver) matchTell(text string) (name, body string, ok bool) {
	m := tellRegex.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	name = strings.TrimSpace(m[1])
	if _, excluded := r.excluded[strings.ToLower(name)]; excluded {
		return "", "", false
	}
	return name, m[2], true
}

func (r *Resolver) tell(ctx context.Context, name, body string) (*Resolution, error) {
	conv := resolveContact(ctx, r.store, name)
	original := r.lastIncoming(ctx, conv)

	message, err := r.rewrite(ctx, conv, name, original, body)
	if err != nil {
		r.logger.Warn("Rewrite failed, sending as typed", zap.String("conversation", conv), zap.Error(err))
		message = body
	}
	return r.send(ctx, ResolvedTell, conv, name, message), nil
}

func (r *Resolver) replyPending(ctx context.Context, pending domain.PendingReply, text string) (*Resolution, error) {
	message, err := r.rewrite(ctx, pending.ConversationID, pending.SenderName, pending.OriginalMessage, text)
	if err != nil {
		r.logger.Error("Rewrite failed", zap.String("conversation", pending.ConversationID), zap.Error(err))
		return &Resolution{
			Kind:           ResolvedPendingReply,
			ConversationID: pending.ConversationID,
			Text:           fmt.Sprintf("Failed to send message to %s", pending.SenderName),
		}, nil
	}
	return r.send(ctx, ResolvedPendingReply, pending.ConversationID, pending.SenderName, message), nil
}

func (r *Resolver) quickReply(ctx context.Context, conv, text string) *Resolution {
	return r.send(ctx, ResolvedQuickReply, conv, conv, r.config.QuickReplyPrefix+text)
}

func (r *Resolver) send(ctx context.Context, kind ResolutionKind, conv, display, message string) *Resolution {
	res := &Resolution{Kind: kind, ConversationID: conv}

	var report *SendReport
	switch kind {
	case ResolvedTell, ResolvedChat:
		report = r.Deliver(ctx, conv, message)
	default:
		// a pending or quick reply answers a topic, it does not start one
		report = r.dispatch(ctx, conv, message)
	}
	if !report.OK() {
		res.Text = fmt.Sprintf("Failed to send message to %s", display)
		return res
	}
	res.Sent = []string{conv}
	res.Text = fmt.Sprintf("Sent to %s: %s", display, message)
	return res
}

// Deliver sends a message the user asked for directly. On success the
// conversation becomes the last active one.
func (r *Resolver) Deliver(ctx context.Context, conversationID, text string) *SendReport {
	report := r.dispatch(ctx, conversationID, text)
	if report.OK() {
		r.sessions.SetLastActive(conversationID)
	}
	return report
}

func (r *Resolver) dispatch(ctx context.Context, conversationID, text string) *SendReport {
	report := r.dispatcher.Dispatch(ctx, conversationID, text)
	if report.OK() {
		r.contexts.Append(conversationID, text, domain.DirectionOutgoing)
	}
	return report
}

// isQuickReply reports whether text is short and free of command keywords
func (r *Resolver) isQuickReply(text string) bool {
	if len(strings.Fields(text)) > r.config.QuickReplyMaxWords {
		return false
	}
	lower := strings.ToLower(text)
	for _, k := range r.keywords {
		if strings.Contains(lower, k) {
			return false
		}
	}
	return true
}

// rewrite turns the user's casual words into a message for the contact
func (r *Resolver) rewrite(ctx context.Context, conv, sender, original, userText string) (string, error) {
	if original == "" {
		original = "(no recent message)"
	}
	prompt := r.config.RewriteTemplate
	prompt = strings.ReplaceAll(prompt, "{{history}}", r.contexts.FormattedHistory(conv))
	prompt = strings.ReplaceAll(prompt, "{{sender}}", sender)
	prompt = strings.ReplaceAll(prompt, "{{original_message}}", original)
	prompt = strings.ReplaceAll(prompt, "{{user_text}}", userText)

	out, err := r.completion.Complete(ctx, []repo.Turn{{Role: repo.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("complete rewrite: %w", err)
	}
	out = strings.Trim(strings.TrimSpace(out), "\"'")
	if out == "" {
		return "", errors.New("complete rewrite: empty answer")
	}
	return out, nil
}

func (r *Resolver) lastIncoming(ctx context.Context, conv string) string {
	msgs, err := r.store.ListByConversation(ctx, conv, 10)
	if err != nil {
		return ""
	}
	for _, m := range msgs {
		if m.IsIncoming() {
			return m.Content
		}
	}
	return ""
}

// chat answers a general query and executes any SEND directives in the answer
func (r *Resolver) chat(ctx context.Context, text string) (*Resolution, error) {
	r.contexts.AppendUserUtterance(text)

	system := r.config.ChatSystemPrompt + "\n\n" + FormatTimeContext(r.now())
	if r.config.MessagingHint != "" {
		system += "\n\n" + r.config.MessagingHint
	}

	r.memMu.Lock()
	turns := make([]repo.Turn, 0, len(r.memory)+2)
	turns = append(turns, repo.Turn{Role: repo.RoleSystem, Content: system})
	turns = append(turns, r.memory...)
	r.memMu.Unlock()
	turns = append(turns, repo.Turn{Role: repo.RoleUser, Content: text})

	answer, err := r.completion.Complete(ctx, turns)
	if err != nil {
		return nil, fmt.Errorf("complete chat: %w", err)
	}
	r.remember(text, answer)

	res := &Resolution{Kind: ResolvedChat, Text: answer}
	directives, cleaned, err := domain.ExtractSendDirectives(answer)
	if err != nil {
		r.logger.Warn("Ignoring malformed send directive", zap.Error(err))
		return res, nil
	}
	if len(directives) == 0 {
		return res, nil
	}

	res.Directives = directives
	var notes []string
	for _, d := range directives {
		sent := r.send(ctx, ResolvedChat, resolveContact(ctx, r.store, d.Contact), d.Contact, d.Message)
		res.Sent = append(res.Sent, sent.Sent...)
		notes = append(notes, sent.Text)
	}
	res.Text = cleaned
	if res.Text == "" {
		res.Text = strings.Join(notes, "\n")
	}
	return res, nil
}

func (r *Resolver) remember(user, assistant string) {
	r.memMu.Lock()
	defer r.memMu.Unlock()
	r.memory = append(r.memory,
		repo.Turn{Role: repo.RoleUser, Content: user},
		repo.Turn{Role: repo.RoleAssistant, Content: assistant},
	)
	if over := len(r.memory) - r.config.ChatMemoryTurns; over > 0 {
		r.memory = append([]repo.Turn(nil), r.memory[over:]...)
	}
}
