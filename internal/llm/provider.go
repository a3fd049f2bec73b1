package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teemow/inboxtriage/internal/instrumentation"
)

// Message is one turn sent to a model.
type Message struct {
	Role    string
	Content string
}

// Request is a single completion request.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Provider is a text completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Provider names accepted in Config.Provider.
const (
	ProviderAnthropic = instrumentation.ServiceAnthropic
	ProviderBedrock   = instrumentation.ServiceBedrock
)

// Defaults for Config.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 2048
	DefaultTimeout   = 30 * time.Second
)

// Config selects and configures the model backend.
type Config struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Region    string        `yaml:"region"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Validate checks the configuration for the selected provider.
func (c Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case "", ProviderAnthropic:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("llm: api key is required for provider %q (set ANTHROPIC_API_KEY)", ProviderAnthropic)
		}
	case ProviderBedrock:
		if strings.TrimSpace(c.Model) == "" {
			return fmt.Errorf("llm: model is required for provider %q", ProviderBedrock)
		}
	default:
		return fmt.Errorf("llm: unknown provider %q", c.Provider)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("llm: max_tokens must not be negative")
	}
	return nil
}

// NewProviderFromConfig creates the Provider selected by cfg.
func NewProviderFromConfig(ctx context.Context, cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderBedrock:
		return NewBedrock(ctx, cfg.Region, cfg.Model, cfg.MaxTokens)
	default:
		opts := []AnthropicOption{WithMaxTokens(cfg.MaxTokens)}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		return NewAnthropic(cfg.APIKey, cfg.Model, opts...), nil
	}
}

// complete runs one request with a span and a model metric.
func complete(ctx context.Context, p Provider, m *instrumentation.Metrics, kind string, req Request) (string, error) {
	ctx, span := instrumentation.StartClientSpan(ctx, p.Name(), kind)
	start := time.Now()
	out, err := p.Complete(ctx, req)
	m.RecordModelRequest(ctx, p.Name(), kind, instrumentation.StatusOf(err), time.Since(start))
	instrumentation.EndSpan(span, err)
	return out, err
}
