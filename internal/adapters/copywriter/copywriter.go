// Package copywriter turns stored property data into marketing copy using a
// hosted language model.
package copywriter

import (
	"errors"
	"fmt"

	"lamudi_ingest/internal/domain"
	"lamudi_ingest/internal/shared"
)

var (
	ErrUnauthorized = errors.New("copywriter: unauthorized")
	ErrForbidden    = errors.New("copywriter: forbidden")
	ErrEmptyReply   = errors.New("copywriter: empty reply")
)

// New returns the generator selected by cfg.Provider.
func New(cfg shared.AIConfig) (domain.DescriptionGenerator, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(OpenAIConfig{
			BaseURL: cfg.OpenAIBase,
			APIKey:  cfg.OpenAIKey,
			Model:   cfg.OpenAIModel,
			RPS:     cfg.RPS,
			Timeout: cfg.Timeout,
		})
	case "anthropic":
		return NewAnthropic(AnthropicConfig{
			APIKey:  cfg.AnthropicKey,
			Model:   cfg.AnthropicModel,
			RPS:     cfg.RPS,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}
