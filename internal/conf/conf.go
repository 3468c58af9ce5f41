package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/DevRickLin/chat-relay/internal/biz/usecase"
)

// Config represents application configuration
type Config struct {
	// OpenAI-compatible completion service
	OpenAI OpenAIConfig

	// WhatsApp Web connector
	WhatsApp WhatsAppConfig

	// Local stores
	Store StoreConfig

	// Change detector polling
	Poll PollConfig

	// Dispatcher retry policy
	Send SendConfig

	// Feishu user surface (optional)
	Feishu FeishuConfig

	// Housekeeping schedules
	Housekeeping HousekeepingConfig

	// Prompts configuration (loaded from YAML)
	Prompts *PromptsConfig

	APIPort       int
	AssistantName string

	// Debug mode
	Debug     bool
	LogFormat string
}

// OpenAIConfig contains completion service configuration
type OpenAIConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	RatePerMinute int
}

// WhatsAppConfig contains connector configuration
type WhatsAppConfig struct {
	ProfileDir string
	Headless   bool
	URL        string
	BrowserBin string
}

// StoreConfig contains local persistence configuration
type StoreConfig struct {
	ChatDBPath    string
	StateDBPath   string
	RetentionDays int
}

// PollConfig contains change detector configuration
type PollConfig struct {
	Interval         time.Duration
	MaxConversations int
	ReadLimit        int
	RecoverAfter     int
}

// SendConfig contains dispatcher configuration
type SendConfig struct {
	MaxAttempts  int
	Backoff      time.Duration
	RecoveryWait time.Duration
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID       string
	AppSecret   string
	OwnerChatID string
}

// Enabled reports whether the Feishu surface is configured
func (c *FeishuConfig) Enabled() bool {
	return c.AppID != "" && c.AppSecret != ""
}

// HousekeepingConfig contains cron expressions for maintenance jobs
type HousekeepingConfig struct {
	PruneCron    string
	SnapshotCron string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".chat-relay")

	assistantName := envString("ASSISTANT_NAME", "Friday")

	// Load prompts from YAML
	promptsConfig, err := LoadPromptsConfig(os.Getenv("PROMPTS_CONFIG_PATH"))
	if err != nil {
		promptsConfig = DefaultPromptsConfig()
	}

	return &Config{
		OpenAI: OpenAIConfig{
			APIKey:        os.Getenv("OPENAI_API_KEY"),
			BaseURL:       os.Getenv("OPENAI_BASE_URL"),
			Model:         envString("OPENAI_MODEL", "gpt-4o"),
			Timeout:       time.Duration(envInt("COMPLETION_TIMEOUT_SECONDS", 30)) * time.Second,
			RatePerMinute: envInt("COMPLETION_RATE_PER_MINUTE", 30),
		},
		WhatsApp: WhatsAppConfig{
			ProfileDir: expandHome(envString("WHATSAPP_PROFILE_DIR", filepath.Join(baseDir, "whatsapp-profile"))),
			Headless:   envBool("WHATSAPP_HEADLESS", false),
			URL:        envString("WHATSAPP_URL", "https://web.whatsapp.com"),
			BrowserBin: os.Getenv("BROWSER_BIN"),
		},
		Store: StoreConfig{
			ChatDBPath:    expandHome(envString("CHAT_DB_PATH", filepath.Join(baseDir, "messages.db"))),
			StateDBPath:   expandHome(envString("STATE_DB_PATH", filepath.Join(baseDir, "state.bolt"))),
			RetentionDays: envInt("RETENTION_DAYS", 0),
		},
		Poll: PollConfig{
			Interval:         time.Duration(envInt("POLL_INTERVAL_SECONDS", 3)) * time.Second,
			MaxConversations: envInt("POLL_MAX_CONVERSATIONS", 20),
			ReadLimit:        envInt("POLL_READ_LIMIT", 10),
			RecoverAfter:     envInt("POLL_RECOVER_AFTER", 3),
		},
		Send: SendConfig{
			MaxAttempts:  envInt("SEND_MAX_ATTEMPTS", 3),
			Backoff:      time.Duration(envInt("SEND_BACKOFF_SECONDS", 2)) * time.Second,
			RecoveryWait: time.Duration(envInt("SEND_RECOVERY_WAIT_SECONDS", 3)) * time.Second,
		},
		Feishu: FeishuConfig{
			AppID:       os.Getenv("FEISHU_APP_ID"),
			AppSecret:   os.Getenv("FEISHU_APP_SECRET"),
			OwnerChatID: os.Getenv("FEISHU_OWNER_CHAT_ID"),
		},
		Housekeeping: HousekeepingConfig{
			PruneCron:    envString("PRUNE_CRON", "0 3 * * *"),
			SnapshotCron: envString("SNAPSHOT_CRON", "*/5 * * * *"),
		},
		Prompts:       promptsConfig,
		APIPort:       envInt("API_PORT", 9876),
		AssistantName: assistantName,
		Debug:         os.Getenv("DEBUG") == "true",
		LogFormat:     os.Getenv("LOG_FORMAT"),
	}
}

// Retention returns how long messages are kept, zero meaning forever
func (c *StoreConfig) Retention() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ToRetryPolicy converts to the dispatcher retry policy
func (c *SendConfig) ToRetryPolicy() usecase.RetryPolicy {
	return usecase.RetryPolicy{
		MaxAttempts:  c.MaxAttempts,
		Backoff:      c.Backoff,
		RecoveryWait: c.RecoveryWait,
	}
}

// ToContextConfig converts to the context store configuration
func (c *Config) ToContextConfig() usecase.ContextConfig {
	return usecase.ContextConfig{
		WindowSize:    c.Prompts.Context.WindowSize,
		PoolCapacity:  c.Prompts.Context.PoolCapacity,
		AssistantName: c.AssistantName,
	}
}

// ToDecisionPrompts converts to the decision engine prompts
func (c *Config) ToDecisionPrompts() usecase.DecisionPrompts {
	return usecase.DecisionPrompts{
		SystemPrompt: c.Prompts.FormatAssistant(c.Prompts.Decision.SystemPrompt, c.AssistantName),
		UserTemplate: c.Prompts.FormatAssistant(c.Prompts.Decision.UserTemplate, c.AssistantName),
	}
}

// ToResolverConfig converts to the utterance resolver configuration
func (c *Config) ToResolverConfig() usecase.ResolverConfig {
	p := c.Prompts
	return usecase.ResolverConfig{
		RewriteTemplate:    p.FormatAssistant(p.Rewrite.Template, c.AssistantName),
		ChatSystemPrompt:   p.FormatAssistant(p.Chat.SystemPrompt, c.AssistantName),
		MessagingHint:      p.FormatAssistant(p.Chat.MessagingHint, c.AssistantName),
		ChatMemoryTurns:    p.Chat.MemoryTurns,
		QuickReplyPrefix:   p.FormatAssistant(p.Resolver.QuickReplyPrefix, c.AssistantName),
		QuickReplyMaxWords: p.Resolver.QuickReplyMaxWords,
		ExcludedTellWords:  p.Resolver.ExcludedTellWords,
		CommandKeywords:    p.Resolver.CommandKeywords,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return &ConfigError{Field: "OPENAI_API_KEY", Message: "required"}
	}
	if c.Poll.Interval <= 0 {
		return &ConfigError{Field: "POLL_INTERVAL_SECONDS", Message: "must be positive"}
	}
	if c.Poll.MaxConversations <= 0 || c.Poll.ReadLimit <= 0 {
		return &ConfigError{Field: "POLL_MAX_CONVERSATIONS/POLL_READ_LIMIT", Message: "must be positive"}
	}
	if c.Send.MaxAttempts <= 0 {
		return &ConfigError{Field: "SEND_MAX_ATTEMPTS", Message: "must be positive"}
	}
	if c.OpenAI.Timeout <= 0 {
		return &ConfigError{Field: "COMPLETION_TIMEOUT_SECONDS", Message: "must be positive"}
	}
	if !gronx.IsValid(c.Housekeeping.PruneCron) {
		return &ConfigError{Field: "PRUNE_CRON", Message: "invalid cron expression " + strconv.Quote(c.Housekeeping.PruneCron)}
	}
	if !gronx.IsValid(c.Housekeeping.SnapshotCron) {
		return &ConfigError{Field: "SNAPSHOT_CRON", Message: "invalid cron expression " + strconv.Quote(c.Housekeeping.SnapshotCron)}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func envString(name, def string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return def
}

func envInt(name string, def int) int {
	if val := os.Getenv(name); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(name string, def bool) bool {
	if val := os.Getenv(name); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
