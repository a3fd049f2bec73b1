package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxtriage/internal/config"
	"github.com/teemow/inboxtriage/internal/gmail"
	"github.com/teemow/inboxtriage/internal/google"
	"github.com/teemow/inboxtriage/internal/history"
	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/labels"
	"github.com/teemow/inboxtriage/internal/llm"
	"github.com/teemow/inboxtriage/internal/logging"
)

// app holds the configuration and shared dependencies of one command run.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	instr   *instrumentation.Provider
	closers []func(context.Context) error
}

// appOptions tweak loadApp for a command.
type appOptions struct {
	// instrument forces instrumentation on.
	instrument bool
}

// loadApp resolves the configuration (defaults, environment, file, flags),
// sets up logging and instrumentation and validates the result.
func loadApp(ctx context.Context, opts appOptions) (*app, error) {
	path, required := configFile, true
	if path == "" {
		path, required = config.DefaultPath(), false
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}

	if account != "" {
		cfg.Gmail.Account = account
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if opts.instrument {
		cfg.Instrumentation.Enabled = true
	}
	cfg.Instrumentation.ServiceVersion = version
	cfg.Instrumentation.Account = cfg.Gmail.Account

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)

	provider, err := instrumentation.NewProvider(ctx, cfg.Instrumentation)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: provider.Metrics(),
		instr:   provider,
	}
	a.onClose(provider.Shutdown)
	return a, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close releases everything in reverse order of acquisition.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", logging.Err(err))
	}
}

func (a *app) gmailClient(ctx context.Context) (*gmail.Client, error) {
	tokens := google.NewFileTokenProvider(a.cfg.Google)
	if !tokens.HasTokenForAccount(a.cfg.Gmail.Account) {
		return nil, errors.New(google.GetAuthenticationErrorMessage(a.cfg.Gmail.Account))
	}
	return gmail.NewClientForAccount(ctx, tokens, a.cfg.Gmail.Account, gmail.Options{
		RateLimit: a.cfg.Gmail.RateLimit,
		Burst:     a.cfg.Gmail.Burst,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
}

func (a *app) executor(provider labels.Provider) *labels.Executor {
	policy := a.cfg.RetryPolicy()
	return labels.NewExecutor(provider, labels.ExecutorOptions{
		Policy:      &policy,
		Concurrency: a.cfg.Labels.Concurrency,
		CallTimeout: a.cfg.Labels.CallTimeout,
		Logger:      a.logger,
		Metrics:     a.metrics,
		Audit:       instrumentation.NewAuditLogger(a.logger, a.cfg.Instrumentation.AuditLogging),
	})
}

func (a *app) historyStore(ctx context.Context) (*history.Store, error) {
	backend, err := a.cfg.OpenHistoryBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	a.onClose(func(context.Context) error { return backend.Close() })

	return history.NewStore(backend, history.Options{
		MaxAge:     a.cfg.History.MaxAge,
		MaxThreads: a.cfg.History.MaxThreads,
		Logger:     a.logger,
		Metrics:    a.metrics,
	}), nil
}

func (a *app) model(ctx context.Context) (llm.Provider, error) {
	p, err := llm.NewProviderFromConfig(ctx, a.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create model provider: %w", err)
	}
	return p, nil
}

// withApp wraps a RunE body with loadApp and close.
func withApp(opts appOptions, run func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := loadApp(ctx, opts)
		if err != nil {
			return err
		}
		defer a.close()
		return run(ctx, cmd, a, args)
	}
}
