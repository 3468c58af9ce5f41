package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"
)

// IntentHandler answers utterances it recognizes. Handlers are tried in
// registration order; the first that reports handled wins.
type IntentHandler interface {
	Name() string
	Handle(ctx context.Context, text string) (reply string, handled bool, err error)
}

const (
	historyResultLimit   = 5
	historyPreviewLength = 100
)

// DateTimeIntent answers date and time questions locally
type DateTimeIntent struct {
	now func() time.Time
}

var (
	dateQuestionRegex = regexp.MustCompile(`(?i)\b(?:what(?:'s|\s+is)\s+(?:the\s+)?date|what\s+day\s+is\s+(?:it|today)|today'?s\s+date)\b`)
	timeQuestionRegex = regexp.MustCompile(`(?i)\b(?:what(?:'s|\s+is)\s+the\s+time|what\s+time\s+is\s+it)\b`)
)

// NewDateTimeIntent creates a date/time intent on the wall clock
func NewDateTimeIntent() *DateTimeIntent {
	return &DateTimeIntent{now: time.Now}
}

func (i *DateTimeIntent) Name() string { return "datetime" }

func (i *DateTimeIntent) Handle(_ context.Context, text string) (string, bool, error) {
	now := i.now()
	switch {
	case timeQuestionRegex.MatchString(text):
		return "It's " + now.Format("03:04 PM"), true, nil
	case dateQuestionRegex.MatchString(text):
		return "It's " + now.Format("Monday, January 02, 2006"), true, nil
	}
	return "", false, nil
}

// SendCommandIntent sends explicit "send a message to X: text" commands as typed
type SendCommandIntent struct {
	dispatcher *Dispatcher
	store      repo.ChatStoreRepo
	contexts   *ContextStore
}

var sendCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)^\s*send\s+(?:a\s+)?(?:whatsapp\s+)?(?:message\s+)?to\s+([^:]+?)\s*:\s*(.+?)\s*$`),
	regexp.MustCompile(`(?is)^\s*whatsapp\s+([^:]+?)\s*:\s*(.+?)\s*$`),
	regexp.MustCompile(`(?is)^\s*message\s+([^:]+?)\s+on\s+whatsapp\s*:\s*(.+?)\s*$`),
}

// NewSendCommandIntent creates a new send command intent
func NewSendCommandIntent(dispatcher *Dispatcher, store repo.ChatStoreRepo, contexts *ContextStore) *SendCommandIntent {
	return &SendCommandIntent{dispatcher: dispatcher, store: store, contexts: contexts}
}

func (i *SendCommandIntent) Name() string { return "send" }

func (i *SendCommandIntent) Handle(ctx context.Context, text string) (string, bool, error) {
	for _, re := range sendCommandPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		contact := strings.TrimSpace(m[1])
		message := strings.TrimSpace(m[2])
		conv := resolveContact(ctx, i.store, contact)

		report := i.dispatcher.Dispatch(ctx, conv, message)
		if !report.OK() {
			return fmt.Sprintf("Failed to send message to %s", contact), true, report.Err
		}
		i.contexts.Append(conv, message, domain.DirectionOutgoing)
		return fmt.Sprintf("Sent to %s: %s", contact, message), true, nil
	}
	return "", false, nil
}

// HistoryIntent answers "what did X say" and message searches from the chat store
type HistoryIntent struct {
	store repo.ChatStoreRepo
}

var (
	historyContactPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bwhat\s+did\s+([^\s?]+)\s+say\b`),
		regexp.MustCompile(`(?i)\bshow\s+(?:me\s+)?messages?\s+from\s+([^\s?]+)`),
		regexp.MustCompile(`(?i)\bcheck\s+([^\s']+)'?s?\s+messages?\b`),
		regexp.MustCompile(`(?i)\bread\s+messages?\s+from\s+([^\s?]+)`),
	}
	historySearchPattern = regexp.MustCompile(`(?i)^\s*search\s+(?:whatsapp\s+|messages\s+)?(?:for\s+)?(.+?)\s*\??\s*$`)
)

// NewHistoryIntent creates a new history intent
func NewHistoryIntent(store repo.ChatStoreRepo) *HistoryIntent {
	return &HistoryIntent{store: store}
}

func (i *HistoryIntent) Name() string { return "history" }

func (i *HistoryIntent) Handle(ctx context.Context, text string) (string, bool, error) {
	for _, re := range historyContactPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			reply, err := i.fromContact(ctx, strings.TrimSpace(m[1]))
			return reply, true, err
		}
	}
	if m := historySearchPattern.FindStringSubmatch(text); m != nil {
		reply, err := i.search(ctx, strings.Trim(m[1], `"'`))
		return reply, true, err
	}
	return "", false, nil
}

func (i *HistoryIntent) fromContact(ctx context.Context, contact string) (string, error) {
	conv := resolveContact(ctx, i.store, contact)
	msgs, err := i.store.ListByConversation(ctx, conv, 50)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	var incoming []*domain.Message
	for _, m := range msgs {
		if m.IsIncoming() {
			incoming = append(incoming, m)
		}
	}
	if len(incoming) == 0 {
		return fmt.Sprintf("No messages from %s.", contact), nil
	}
	return formatMessageList(fmt.Sprintf("Messages from %s:", contact), incoming), nil
}

func (i *HistoryIntent) search(ctx context.Context, query string) (string, error) {
	if query == "" {
		return "What should I search for?", nil
	}
	msgs, err := i.store.Search(ctx, query, 50)
	if err != nil {
		return "", fmt.Errorf("search messages: %w", err)
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("No messages found matching %q.", query), nil
	}
	return formatMessageList(fmt.Sprintf("Found %d messages matching %q:", len(msgs), query), msgs), nil
}

func formatMessageList(header string, msgs []*domain.Message) string {
	var sb strings.Builder
	sb.WriteString(header)
	for idx, m := range msgs {
		if idx == historyResultLimit {
			fmt.Fprintf(&sb, "\n... and %d more", len(msgs)-historyResultLimit)
			break
		}
		fmt.Fprintf(&sb, "\n[%s] %s: %s", humanize.Time(m.Timestamp), m.SenderName, m.Preview(historyPreviewLength))
	}
	return sb.String()
}

// resolveContact maps a spoken name to a known conversation, or keeps the name
func resolveContact(ctx context.Context, store repo.ChatStoreRepo, name string) string {
	if id, ok, err := store.FindConversation(ctx, name); err == nil && ok {
		return id
	}
	return name
}
