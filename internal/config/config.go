package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teemow/inboxtriage/internal/google"
	"github.com/teemow/inboxtriage/internal/history"
	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/labels"
	"github.com/teemow/inboxtriage/internal/llm"
	"github.com/teemow/inboxtriage/internal/logging"
	"github.com/teemow/inboxtriage/internal/retry"
	"github.com/teemow/inboxtriage/internal/session"
	"github.com/teemow/inboxtriage/internal/triage"
)

// History backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendValkey = "valkey"
)

// Config is the complete inboxtriage configuration.
type Config struct {
	Logging         logging.Config         `yaml:"logging"`
	Instrumentation instrumentation.Config `yaml:"instrumentation"`
	Google          google.Config          `yaml:"google"`
	Gmail           GmailConfig            `yaml:"gmail"`
	LLM             llm.Config             `yaml:"llm"`
	History         HistoryConfig          `yaml:"history"`
	Labels          LabelsConfig           `yaml:"labels"`
	Session         session.Config         `yaml:"session"`
	Watch           WatchConfig            `yaml:"watch"`
}

// GmailConfig selects the account and bounds the request rate.
type GmailConfig struct {
	Account   string  `yaml:"account"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// HistoryConfig configures conversation history persistence.
type HistoryConfig struct {
	// Backend is memory, sqlite or valkey (default: sqlite).
	Backend string `yaml:"backend"`

	// Path of the SQLite database.
	Path string `yaml:"path"`

	// MaxPageCount caps the SQLite database size; 0 leaves it unbounded.
	MaxPageCount int `yaml:"max_page_count"`

	// MaxBytes caps the memory backend; 0 leaves it unbounded.
	MaxBytes int `yaml:"max_bytes"`

	MaxAge     time.Duration        `yaml:"max_age"`
	MaxThreads int                  `yaml:"max_threads"`
	Valkey     history.ValkeyConfig `yaml:"valkey"`
}

// LabelsConfig configures label reconciliation and reclassification.
type LabelsConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	ContextWindow int           `yaml:"context_window"`
	ApplyWindow   int           `yaml:"apply_window"`
	Retry         RetryConfig   `yaml:"retry"`
}

// RetryConfig is the shared retry policy for provider and model calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// WatchConfig configures the inbound message poller.
type WatchConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns the built-in configuration. Environment variables
// provide the defaults where they are set.
func Default() Config {
	return Config{
		Logging: logging.Config{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
		Instrumentation: instrumentation.DefaultConfig(),
		Google:          google.ConfigFromEnv(),
		Gmail: GmailConfig{
			Account:   getEnvOrDefault("INBOXTRIAGE_ACCOUNT", google.DefaultAccount),
			RateLimit: 10,
			Burst:     5,
		},
		LLM: llm.Config{
			Provider:  getEnvOrDefault("LLM_PROVIDER", llm.ProviderAnthropic),
			Model:     getEnvOrDefault("LLM_MODEL", llm.DefaultModel),
			APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL:   os.Getenv("ANTHROPIC_BASE_URL"),
			Region:    os.Getenv("AWS_REGION"),
			MaxTokens: llm.DefaultMaxTokens,
			Timeout:   llm.DefaultTimeout,
		},
		History: HistoryConfig{
			Backend:    getEnvOrDefault("HISTORY_BACKEND", BackendSQLite),
			Path:       getEnvOrDefault("HISTORY_PATH", defaultHistoryPath()),
			MaxAge:     history.DefaultMaxAge,
			MaxThreads: history.DefaultMaxThreads,
			Valkey: history.ValkeyConfig{
				URL:       os.Getenv("VALKEY_URL"),
				Password:  os.Getenv("VALKEY_PASSWORD"),
				KeyPrefix: "inboxtriage:",
				DB:        getEnvIntOrDefault("VALKEY_DB", 0),
			},
		},
		Labels: LabelsConfig{
			Concurrency:   labels.DefaultConcurrency,
			CallTimeout:   labels.DefaultCallTimeout,
			ContextWindow: triage.DefaultContextWindow,
			ApplyWindow:   triage.DefaultApplyWindow,
			Retry: RetryConfig{
				MaxAttempts: retry.DefaultMaxAttempts,
				BaseDelay:   retry.DefaultBaseDelay,
				MaxDelay:    retry.DefaultMaxDelay,
			},
		},
		Session: session.Config{
			GenerateTimeout: session.DefaultGenerateTimeout,
			SaveTimeout:     session.DefaultSaveTimeout,
		},
		Watch: WatchConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

// DefaultPath returns ~/.config/inboxtriage/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "inboxtriage", "config.yaml")
}

// Load reads the YAML file at path over the defaults. A missing file is
// only an error when required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are rejected so typos do not
// silently fall back to defaults.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks the configuration. Model credentials are checked when
// a model provider is created, so commands that do not need one still run
// without them.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: must be text or json, got %q", c.Logging.Format))
	}

	if err := c.Instrumentation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("instrumentation: %w", err))
	}

	if strings.TrimSpace(c.Gmail.Account) == "" {
		errs = append(errs, errors.New("gmail.account is required"))
	}
	if c.Gmail.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("gmail.rate_limit must be positive, got %v", c.Gmail.RateLimit))
	}

	switch c.History.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.History.Path) == "" {
			errs = append(errs, errors.New("history.path is required for the sqlite backend"))
		}
	case BackendValkey:
		if strings.TrimSpace(c.History.Valkey.URL) == "" {
			errs = append(errs, errors.New("history.valkey.url is required for the valkey backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend: must be memory, sqlite or valkey, got %q", c.History.Backend))
	}
	if c.History.MaxAge <= 0 {
		errs = append(errs, fmt.Errorf("history.max_age must be positive, got %s", c.History.MaxAge))
	}
	if c.History.MaxThreads < 0 {
		errs = append(errs, fmt.Errorf("history.max_threads must not be negative, got %d", c.History.MaxThreads))
	}

	if c.Labels.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("labels.concurrency must be at least 1, got %d", c.Labels.Concurrency))
	}
	if c.Labels.ContextWindow < 1 || c.Labels.ApplyWindow < 1 {
		errs = append(errs, errors.New("labels.context_window and labels.apply_window must be at least 1"))
	}
	if c.Labels.CallTimeout <= 0 {
		errs = append(errs, errors.New("labels.call_timeout must be positive"))
	}
	r := c.Labels.Retry
	if r.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("labels.retry.max_attempts must be at least 1, got %d", r.MaxAttempts))
	}
	if r.BaseDelay < 0 || r.MaxDelay < r.BaseDelay {
		errs = append(errs, errors.New("labels.retry: need 0 <= base_delay <= max_delay"))
	}

	if c.Session.GenerateTimeout <= 0 || c.Session.SaveTimeout <= 0 {
		errs = append(errs, errors.New("session timeouts must be positive"))
	}
	if c.Watch.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("watch.poll_interval must be at least 1s, got %s", c.Watch.PollInterval))
	}

	return errors.Join(errs...)
}

// RetryPolicy returns the configured retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Labels.Retry.MaxAttempts,
		BaseDelay:   c.Labels.Retry.BaseDelay,
		MaxDelay:    c.Labels.Retry.MaxDelay,
	}
}

// OpenHistoryBackend opens the configured history backend. The caller
// closes it.
func (c *Config) OpenHistoryBackend(ctx context.Context) (history.Backend, error) {
	switch c.History.Backend {
	case BackendMemory:
		return history.NewMemoryBackend(c.History.MaxBytes), nil
	case BackendValkey:
		return history.OpenValkey(c.History.Valkey)
	case BackendSQLite:
		return history.OpenSQLite(ctx, c.History.Path, history.SQLiteOptions{MaxPageCount: c.History.MaxPageCount})
	default:
		return nil, fmt.Errorf("unknown history backend %q", c.History.Backend)
	}
}

func defaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "inboxtriage", "history.db")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
