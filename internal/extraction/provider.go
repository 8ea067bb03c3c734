package extraction

import (
	"context"
	"fmt"
)

// Provider names.
const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// NewGenerator creates a generator based on configuration.
func NewGenerator(cfg Config) (Generator, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return &NoOpGenerator{}, nil
	case ProviderAnthropic:
		return newAnthropicGenerator(cfg)
	case ProviderOpenAI:
		return newOpenAIGenerator(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// NoOpGenerator never proposes lessons.
type NoOpGenerator struct{}

// Generate returns an empty lesson list.
func (n *NoOpGenerator) Generate(context.Context, string, string) (string, error) {
	return `{"lessons":[]}`, nil
}

// Available returns false for NoOpGenerator.
func (n *NoOpGenerator) Available() bool {
	return false
}

var _ Generator = (*NoOpGenerator)(nil)
