package copywriter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"lamudi_ingest/internal/adapters/observability"
	"lamudi_ingest/internal/domain"
)

const anthropicMaxTokens = 1024

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string // empty uses the SDK default
	RPS     int
	Timeout time.Duration
}

// Anthropic generates copy through the Messages API. Retries of 429 and 5xx
// are left to the SDK.
type Anthropic struct {
	client anthropic.Client
	model  string
	rl     *rate.Limiter
}

func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(maxAttempts - 1),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		rl:     rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS),
	}, nil
}

func (c *Anthropic) GenerateDescription(ctx context.Context, s domain.DescriptionSubject) (string, error) {
	prompt, err := userPrompt(s)
	if err != nil {
		return "", err
	}
	if err := c.rl.Wait(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: anthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			observability.ObserveExternal("anthropic", "messages", apiErr.StatusCode, time.Since(start))
			switch apiErr.StatusCode {
			case http.StatusUnauthorized:
				return "", ErrUnauthorized
			case http.StatusForbidden:
				return "", ErrForbidden
			}
			return "", fmt.Errorf("anthropic messages: %w", err)
		}
		observability.ObserveExternal("anthropic", "messages", 0, time.Since(start))
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	observability.ObserveExternal("anthropic", "messages", http.StatusOK, time.Since(start))

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyReply
	}
	return sb.String(), nil
}
