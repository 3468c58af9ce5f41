package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PromptsConfig contains all prompt configurations loaded from YAML
type PromptsConfig struct {
	Decision DecisionPrompts `yaml:"decision"`
	Rewrite  RewritePrompts  `yaml:"rewrite"`
	Chat     ChatPrompts     `yaml:"chat"`
	Resolver ResolverConfig  `yaml:"resolver"`
	Context  ContextConfig   `yaml:"context"`
}

// DecisionPrompts contains the reply decision prompts
type DecisionPrompts struct {
	SystemPrompt string `yaml:"system_prompt"`
	UserTemplate string `yaml:"user_template"`
}

// RewritePrompts contains the pending-reply rewrite prompt
type RewritePrompts struct {
	Template string `yaml:"template"`
}

// ChatPrompts contains general assistant chat settings
type ChatPrompts struct {
	SystemPrompt  string `yaml:"system_prompt"`
	MessagingHint string `yaml:"messaging_hint"`
	MemoryTurns   int    `yaml:"memory_turns"`
}

// ResolverConfig contains the utterance resolver word sets
type ResolverConfig struct {
	ExcludedTellWords  []string `yaml:"excluded_tell_words"`
	CommandKeywords    []string `yaml:"command_keywords"`
	QuickReplyMaxWords int      `yaml:"quick_reply_max_words"`
	QuickReplyPrefix   string   `yaml:"quick_reply_prefix"`
}

// ContextConfig contains context store sizes
type ContextConfig struct {
	WindowSize   int `yaml:"window_size"`
	PoolCapacity int `yaml:"pool_capacity"`
}

// LoadPromptsConfig loads prompts configuration from YAML file
func LoadPromptsConfig(configPath string) (*PromptsConfig, error) {
	// Try multiple paths
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/prompts.yaml",
			"/etc/chat-relay/prompts.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
		}
		if homeDir, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(homeDir, ".chat-relay", "prompts.yaml"))
		}
	}

	var data []byte
	for _, p := range paths {
		if b, err := os.ReadFile(p); err == nil {
			data = b
			break
		}
	}

	if data == nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read prompts config %s", configPath)
		}
		return DefaultPromptsConfig(), nil
	}

	return ParsePromptsConfig(data)
}

// ParsePromptsConfig parses YAML and fills in defaults for empty values
func ParsePromptsConfig(data []byte) (*PromptsConfig, error) {
	var config PromptsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse prompts.yaml: %w", err)
	}
	config.fillDefaults()
	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	defaults := DefaultPromptsConfig()

	if c.Decision.SystemPrompt == "" {
		c.Decision.SystemPrompt = defaults.Decision.SystemPrompt
	}
	if c.Decision.UserTemplate == "" {
		c.Decision.UserTemplate = defaults.Decision.UserTemplate
	}
	if c.Rewrite.Template == "" {
		c.Rewrite.Template = defaults.Rewrite.Template
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = defaults.Chat.SystemPrompt
	}
	if c.Chat.MessagingHint == "" {
		c.Chat.MessagingHint = defaults.Chat.MessagingHint
	}
	if c.Chat.MemoryTurns == 0 {
		c.Chat.MemoryTurns = defaults.Chat.MemoryTurns
	}

	// An explicit empty list in YAML is kept; only a missing key falls back
	if c.Resolver.ExcludedTellWords == nil {
		c.Resolver.ExcludedTellWords = defaults.Resolver.ExcludedTellWords
	}
	if c.Resolver.CommandKeywords == nil {
		c.Resolver.CommandKeywords = defaults.Resolver.CommandKeywords
	}
	if c.Resolver.QuickReplyMaxWords == 0 {
		c.Resolver.QuickReplyMaxWords = defaults.Resolver.QuickReplyMaxWords
	}
	if c.Resolver.QuickReplyPrefix == "" {
		c.Resolver.QuickReplyPrefix = defaults.Resolver.QuickReplyPrefix
	}

	if c.Context.WindowSize == 0 {
		c.Context.WindowSize = defaults.Context.WindowSize
	}
	if c.Context.PoolCapacity == 0 {
		c.Context.PoolCapacity = defaults.Context.PoolCapacity
	}
}

// FormatAssistant substitutes the assistant name into a template
func (c *PromptsConfig) FormatAssistant(template, assistantName string) string {
	return strings.ReplaceAll(template, "{{assistant_name}}", assistantName)
}

// DefaultPromptsConfig returns the default prompts configuration
func DefaultPromptsConfig() *PromptsConfig {
	return &PromptsConfig{
		Decision: DecisionPrompts{
			SystemPrompt: `You are {{assistant_name}}, a personal assistant that watches the user's WhatsApp and decides how to handle each new incoming message.

For every message you either reply on the user's behalf or hand it to the user.

Reply on the user's behalf only when the answer is obvious from context:
- The user recently told you something that answers it (for example they are busy, travelling or already have plans).
- The message is a simple acknowledgement or pleasantry.
- The conversation history makes the reply unambiguous.

Hand the message to the user when:
- It needs a decision only the user can make.
- It is personal, sensitive or about money.
- You are unsure.

Answer in EXACTLY this format, one item per line, nothing else.

When replying on the user's behalf:
YES or NO  (should the summary be spoken aloud)
YES
<recipient name exactly as shown in "From">
<reply text to send>
<one-line summary for the user>

When handing the message to the user:
YES or NO  (should the summary be spoken aloud)
NO
<one-line summary for the user>`,
			UserTemplate: `{{time_context}}

{{history}}

{{user_context}}

--- NEW MESSAGE ---
From: {{sender}}
Chat: {{conversation}}
Message: {{message}}

Based on the conversation history and what the user told {{assistant_name}} above, decide whether to auto-reply or notify the user. If the user already has plans at a requested time, decline politely. Use the user's recent statements as context and remember commitments from earlier messages.`,
		},
		Rewrite: RewritePrompts{
			Template: `You are {{assistant_name}}, a personal assistant helping to rewrite the user's casual response into a proper WhatsApp message.

{{history}}

--- LATEST MESSAGE FROM {{sender}} ---
{{original_message}}

--- USER'S CASUAL RESPONSE ---
"{{user_text}}"

TASK: Rewrite the user's casual response into a natural, friendly WhatsApp message. Keep it SHORT and conversational.
Output ONLY the rewritten message, nothing else. No explanations, no quotes, just the message text.`,
		},
		Chat: ChatPrompts{
			SystemPrompt:  `You are {{assistant_name}}, a sophisticated personal assistant. Be concise and helpful.`,
			MessagingHint: `[WhatsApp active. ONLY use 'SEND:<name>:<message>' on its own line if the user explicitly asks you to send or correct a WhatsApp message. Example: user says "Actually I'm not available, tell Chen I can't make it" and you answer with the line SEND:Chen:Can't make it, sorry. For general questions like "tell me about X" just answer normally.]`,
			MemoryTurns:   100,
		},
		Resolver: ResolverConfig{
			ExcludedTellWords: []string{
				"me", "us", "everyone", "somebody", "someone",
				"about", "what", "how", "why", "when", "where",
			},
			CommandKeywords:    []string{"send", "what did", "show messages", "search", "check"},
			QuickReplyMaxWords: 15,
			QuickReplyPrefix:   "I am the assistant {{assistant_name}}, ",
		},
		Context: ContextConfig{
			WindowSize:   50,
			PoolCapacity: 30,
		},
	}
}
