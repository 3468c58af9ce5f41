package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
	"github.com/DevRickLin/chat-relay/internal/metrics"
)

// DecisionPrompts contains the decision prompt templates
type DecisionPrompts struct {
	SystemPrompt string
	// UserTemplate placeholders: {{time_context}} {{history}} {{user_context}}
	// {{sender}} {{conversation}} {{message}}
	UserTemplate string
}

// OutcomeKind is the result of one decision
type OutcomeKind string

const (
	OutcomeAutoReplied  OutcomeKind = "auto-replied"
	OutcomeAwaitingUser OutcomeKind = "awaiting-user"
	OutcomeSendFailed   OutcomeKind = "send-failed"
	OutcomeFailed       OutcomeKind = "failed"
)

// DecisionOutcome describes what the engine did with a message
type DecisionOutcome struct {
	Kind     OutcomeKind
	Decision *domain.Decision
	Send     *SendReport
	Err      error
}

// DecisionUsecase decides per incoming message whether to auto-reply or hand it to the user
type DecisionUsecase struct {
	completion repo.CompletionRepo
	store      repo.ChatStoreRepo
	notifier   repo.NotifierRepo
	contexts   *ContextStore
	sessions   *SessionStore
	dispatcher *Dispatcher
	prompts    DecisionPrompts
	logger     *zap.Logger
	metrics    *metrics.Metrics

	now func() time.Time
}

// NewDecisionUsecase creates a new decision usecase
func NewDecisionUsecase(
	completion repo.CompletionRepo,
	store repo.ChatStoreRepo,
	notifier repo.NotifierRepo,
	contexts *ContextStore,
	sessions *SessionStore,
	dispatcher *Dispatcher,
	prompts DecisionPrompts,
	logger *zap.Logger,
	m *metrics.Metrics,
) *DecisionUsecase {
	return &DecisionUsecase{
		completion: completion,
		store:      store,
		notifier:   notifier,
		contexts:   contexts,
		sessions:   sessions,
		dispatcher: dispatcher,
		prompts:    prompts,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Decide runs the decision for one surfaced incoming message.
// A malformed or timed-out answer leaves the message unread and is not retried.
func (uc *DecisionUsecase) Decide(ctx context.Context, msg *domain.Message) *DecisionOutcome {
	out := uc.decide(ctx, msg)
	uc.metrics.Decision(string(out.Kind))
	return out
}

func (uc *DecisionUsecase) decide(ctx context.Context, msg *domain.Message) *DecisionOutcome {
	logger := uc.logger.With(zap.String("conversation", msg.ConversationID), zap.String("message_id", msg.ID))

	raw, err := uc.completion.Complete(ctx, uc.BuildPrompt(msg))
	if err != nil {
		logger.Error("Decision completion failed", zap.Error(err))
		uc.notify(ctx, domain.NotifyDecisionFailed, msg, "Could not decide how to handle this message. It is still unread.", true)
		return &DecisionOutcome{Kind: OutcomeFailed, Err: fmt.Errorf("complete decision: %w", err)}
	}

	decision, err := domain.ParseDecision(raw)
	if err != nil {
		logger.Error("Decision format error", zap.Error(err), zap.String("response", domain.Truncate(raw, 200)))
		uc.notify(ctx, domain.NotifyDecisionFailed, msg, "Could not understand the decision for this message. It is still unread.", true)
		return &DecisionOutcome{Kind: OutcomeFailed, Err: fmt.Errorf("parse decision: %w", err)}
	}

	if decision.ShouldSend {
		return uc.autoReply(ctx, logger, msg, decision)
	}

	uc.sessions.SetPending(domain.PendingReply{
		ConversationID:  msg.ConversationID,
		SenderName:      msg.SenderName,
		OriginalMessage: msg.Content,
		CreatedAt:       uc.now(),
	})
	uc.markRead(ctx, logger, msg)
	uc.notify(ctx, domain.NotifyNeedInput, msg, decision.Summary, decision.SpeakAloud)
	logger.Info("Waiting for user input")
	return &DecisionOutcome{Kind: OutcomeAwaitingUser, Decision: decision}
}

func (uc *DecisionUsecase) autoReply(ctx context.Context, logger *zap.Logger, msg *domain.Message, decision *domain.Decision) *DecisionOutcome {
	target := uc.resolveRecipient(ctx, logger, msg, decision.Recipient)

	report := uc.dispatcher.Dispatch(ctx, target, decision.ReplyText)
	if !report.OK() {
		logger.Error("Auto-reply failed", zap.Error(report.Err))
		uc.notify(ctx, domain.NotifySendFailed, msg,
			fmt.Sprintf("Failed to send auto-reply to %s: %s", target, decision.ReplyText), true)
		return &DecisionOutcome{Kind: OutcomeSendFailed, Decision: decision, Send: report, Err: report.Err}
	}

	uc.contexts.Append(target, decision.ReplyText, domain.DirectionOutgoing)
	uc.sessions.SetLastActive(target)
	uc.markRead(ctx, logger, msg)

	text := decision.Summary
	if text == "" {
		text = decision.ReplyText
	}
	uc.notify(ctx, domain.NotifyAutoReplied, msg, text+"\n\nSent: "+decision.ReplyText, decision.SpeakAloud)
	logger.Info("Auto-reply sent", zap.String("recipient", target))
	return &DecisionOutcome{Kind: OutcomeAutoReplied, Decision: decision, Send: report}
}

// resolveRecipient maps the model's recipient to a conversation. The sender
// of the message and any known conversation resolve directly; anything
// else falls back to the message's own conversation.
func (uc *DecisionUsecase) resolveRecipient(ctx context.Context, logger *zap.Logger, msg *domain.Message, recipient string) string {
	if strings.EqualFold(recipient, msg.SenderName) || strings.EqualFold(recipient, msg.ConversationID) {
		return msg.ConversationID
	}
	id, ok, err := uc.store.FindConversation(ctx, recipient)
	if err == nil && ok {
		return id
	}
	logger.Warn("Unknown recipient, replying in the same conversation", zap.String("recipient", recipient))
	return msg.ConversationID
}

// BuildPrompt assembles the decision request
func (uc *DecisionUsecase) BuildPrompt(msg *domain.Message) []repo.Turn {
	user := uc.prompts.UserTemplate
	user = strings.ReplaceAll(user, "{{time_context}}", FormatTimeContext(uc.now()))
	user = strings.ReplaceAll(user, "{{history}}", uc.contexts.FormattedHistory(msg.ConversationID))
	user = strings.ReplaceAll(user, "{{user_context}}", uc.contexts.RecentUserContext())
	user = strings.ReplaceAll(user, "{{sender}}", msg.SenderName)
	user = strings.ReplaceAll(user, "{{conversation}}", msg.ConversationID)
	user = strings.ReplaceAll(user, "{{message}}", msg.Content)

	return []repo.Turn{
		{Role: repo.RoleSystem, Content: uc.prompts.SystemPrompt},
		{Role: repo.RoleUser, Content: user},
	}
}

func (uc *DecisionUsecase) markRead(ctx context.Context, logger *zap.Logger, msg *domain.Message) {
	if err := uc.store.MarkRead(ctx, msg.ID); err != nil {
		logger.Warn("Failed to mark message read", zap.Error(err))
	}
}

func (uc *DecisionUsecase) notify(ctx context.Context, kind domain.NotificationKind, msg *domain.Message, text string, speak bool) {
	unread, err := uc.store.CountUnread(ctx, msg.ConversationID)
	if err != nil {
		unread = 0
	}
	n := &domain.Notification{
		Kind:           kind,
		ConversationID: msg.ConversationID,
		SenderName:     msg.SenderName,
		Preview:        msg.Preview(domain.PreviewLength),
		Text:           text,
		SpeakAloud:     speak,
		UnreadCount:    unread,
		Timestamp:      uc.now(),
	}
	if err := uc.notifier.Notify(ctx, n); err != nil && !errors.Is(err, context.Canceled) {
		uc.logger.Warn("Failed to deliver notification", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// FormatTimeContext renders the current time for prompts
func FormatTimeContext(t time.Time) string {
	return "Current time: " + t.Format("03:04 PM") + ", " + t.Format("Monday, January 02, 2006")
}
