package llm

import (
	"fmt"
	"strings"
	"time"

	"umlgen/internal/domain/repository"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderAmvera    = "amvera"
)

const defaultMaxTokens = 4000

// Config selects and configures one chat model client.
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// New builds the ChatModel named by cfg.Provider.
func New(cfg Config) (repository.ChatModel, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		return NewOpenAIModel(cfg)
	case ProviderAnthropic:
		return NewAnthropicModel(cfg)
	case ProviderAmvera:
		return NewAmveraModel(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
