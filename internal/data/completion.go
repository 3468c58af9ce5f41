package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/DevRickLin/chat-relay/internal/biz/repo"
)

// CompletionConfig configures the OpenAI-compatible completion client
type CompletionConfig struct {
	APIKey        string
	BaseURL       string // empty for api.openai.com
	Model         string
	Timeout       time.Duration
	RatePerMinute int // zero disables throttling
}

// completionRepo implements the completion repository with go-openai
type completionRepo struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewCompletionRepo creates a completion repository
func NewCompletionRepo(cfg CompletionConfig) repo.CompletionRepo {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute)
	}

	return &completionRepo{
		client:  openai.NewClientWithConfig(config),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: limiter,
	}
}

// Complete sends the turns and returns the first choice
func (r *completionRepo) Complete(ctx context.Context, turns []repo.Turn) (string, error) {
	if len(turns) == 0 {
		return "", errors.New("no turns to complete")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    toOpenAIRole(t.Role),
			Content: t.Content,
		})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func toOpenAIRole(role repo.Role) string {
	switch role {
	case repo.RoleSystem:
		return openai.ChatMessageRoleSystem
	case repo.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
