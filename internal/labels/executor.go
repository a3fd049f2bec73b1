package labels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teemow/inboxtriage/internal/batch"
	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/logging"
	"github.com/teemow/inboxtriage/internal/retry"
)

// Defaults for ExecutorOptions.
const (
	DefaultConcurrency = 5
	DefaultCallTimeout = 10 * time.Second
)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Policy is applied to every provider call. Defaults to retry.Default.
	Policy *retry.Policy

	// Concurrency bounds the messages processed at once (default 5).
	Concurrency int

	// CallTimeout bounds each provider call (default 10s).
	CallTimeout time.Duration

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
}

// Executor applies label updates to messages. It re-reads every message's
// labels right before computing its delta and writes only when something
// changes. Concurrent writers are not detected; the last write wins.
type Executor struct {
	provider    Provider
	policy      retry.Policy
	concurrency int
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
	audit       *instrumentation.AuditLogger
}

// NewExecutor creates an Executor backed by provider.
func NewExecutor(provider Provider, opts ExecutorOptions) *Executor {
	policy := retry.Default()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if policy.Timeout <= 0 {
		policy.Timeout = opts.CallTimeout
		if policy.Timeout <= 0 {
			policy.Timeout = DefaultCallTimeout
		}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	e := &Executor{
		provider:    provider,
		concurrency: opts.Concurrency,
		logger:      logging.WithComponent(logging.OrDefault(opts.Logger), "labels"),
		metrics:     opts.Metrics,
		audit:       opts.Audit,
	}

	onRetry := policy.OnRetry
	policy.OnRetry = func(op string, attempt int, delay time.Duration, err error) {
		e.logger.Debug("retrying provider call",
			logging.Operation(op), logging.Attempt(attempt),
			slog.Duration("delay", delay), logging.Err(err))
		e.metrics.RecordRetry(context.Background(), op)
		if onRetry != nil {
			onRetry(op, attempt, delay, err)
		}
	}
	e.policy = policy

	return e
}

// Result is the per-message outcome of one update.
type Result struct {
	Update    string
	Updated   []string
	Unchanged []string
	Failed    []string
	Errors    map[string]error
}

// OK reports whether no message failed.
func (r *Result) OK() bool {
	return r != nil && len(r.Failed) == 0
}

// Err returns a *FailedMessagesError when some messages failed.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	if r == nil {
		return fmt.Errorf("no label result")
	}
	return &FailedMessagesError{Update: r.Update, Failed: r.Failed, Errors: r.Errors}
}

// FailedMessagesError lists the messages whose update failed after retries.
type FailedMessagesError struct {
	Update string
	Failed []string
	Errors map[string]error
}

func (e *FailedMessagesError) Error() string {
	return fmt.Sprintf("label update %s failed for %d message(s): %s", e.Update, len(e.Failed), strings.Join(e.Failed, ", "))
}

// Unwrap exposes the individual failures to errors.Is/As.
func (e *FailedMessagesError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, id := range e.Failed {
		if err := e.Errors[id]; err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// MissingLabelsError reports label names an update needs that the account
// does not have. Nothing is written to the message.
type MissingLabelsError struct {
	MessageID string
	Names     []string
}

func (e *MissingLabelsError) Error() string {
	return fmt.Sprintf("labels of %s not updated, missing from account: %s", e.MessageID, strings.Join(e.Names, ", "))
}

// ApplyToThread applies u to the newest window messages of threadID
// (all messages when window <= 0).
func (e *Executor) ApplyToThread(ctx context.Context, threadID string, u Update, window int) (*Result, error) {
	thread, err := retry.Value(ctx, e.policy, "labels.thread", func(ctx context.Context) (Thread, error) {
		return e.provider.GetThread(ctx, threadID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get thread %s: %w", threadID, err)
	}
	return e.ApplyToMessages(ctx, MessageIDs(thread.Tail(window)), u)
}

// ApplyToMessages applies u to every message in ids. The returned error is
// non-nil only when nothing could be attempted; per-message failures are
// reported in the Result.
func (e *Executor) ApplyToMessages(ctx context.Context, ids []string, u Update) (*Result, error) {
	attrs := instrumentation.NewSpanAttributeBuilder().
		WithMessageCount(len(ids)).
		WithUpdate(u.String()).
		Build()
	ctx, span := instrumentation.StartSpan(ctx, "labels.apply", attrs...)

	result, err := e.apply(ctx, ids, u)
	instrumentation.EndSpan(span, err)
	return result, err
}

func (e *Executor) apply(ctx context.Context, ids []string, u Update) (*Result, error) {
	result := &Result{Update: u.String(), Errors: map[string]error{}}
	if len(ids) == 0 {
		return result, nil
	}

	folders, err := retry.Value(ctx, e.policy, "labels.folders", e.provider.ListFolders)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	resolver := BuildResolver(folders, e.logger)

	results := batch.ProcessBatch(ctx, ids, e.concurrency, func(ctx context.Context, id string) (string, error) {
		return e.applyOne(ctx, resolver, id, u)
	})

	br := batch.Summarize(results)
	result.Updated = br.IDs(batch.StatusSuccess)
	result.Unchanged = br.IDs(batch.StatusUnchanged)
	result.Failed = br.IDs(batch.StatusError)
	result.Errors = br.Errors()

	for _, r := range results {
		e.metrics.RecordLabelWrite(ctx, u.Prefix(), r.Status)
	}

	level := slog.LevelInfo
	if len(result.Failed) > 0 {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "label update finished",
		slog.String("update", result.Update),
		slog.Int("updated", len(result.Updated)),
		slog.Int("unchanged", len(result.Unchanged)),
		slog.Int("failed", len(result.Failed)),
		logging.Err(result.Err()))

	return result, nil
}

// applyOne reconciles a single message: read, translate, diff, translate
// back, write if changed.
func (e *Executor) applyOne(ctx context.Context, resolver *Resolver, id string, u Update) (string, error) {
	current, err := retry.Value(ctx, e.policy, "labels.read", func(ctx context.Context) ([]string, error) {
		return e.provider.GetMessageLabels(ctx, id)
	})
	if err != nil {
		return "", fmt.Errorf("read labels of %s: %w", id, err)
	}

	names := resolver.Translate(current)
	delta := ComputeDelta(names, u)
	if delta.IsEmpty() {
		e.logger.Debug("labels already up to date", logging.Message(id), logging.Labels(names))
		return "", batch.ErrUnchanged
	}

	if missing := resolver.Missing(delta.ToAdd); len(missing) > 0 {
		e.logger.Warn("labels missing from account, message left as is",
			logging.Message(id), logging.Labels(missing))
		return "", &MissingLabelsError{MessageID: id, Names: missing}
	}

	next := e.idsFor(resolver, current, delta.Apply(names))
	if SameSet(next, current) {
		return "", batch.ErrUnchanged
	}

	change := instrumentation.NewLabelChange(ctx, id, u.String(), delta.ToAdd, delta.ToRemove)
	start := time.Now()
	err = e.policy.Do(ctx, "labels.write", func(ctx context.Context) error {
		return e.provider.SetMessageLabels(ctx, id, next)
	})
	e.audit.LogLabelChange(change.Complete(start, err))
	if err != nil {
		return "", fmt.Errorf("write labels of %s: %w", id, err)
	}

	return delta.String(), nil
}

// idsFor maps desired names back to ids. Ids the resolver did not know
// were passed through as names; they are kept as they were so a write
// never strips a label just because it could not be named.
func (e *Executor) idsFor(resolver *Resolver, current, desired []string) []string {
	passthrough := make(map[string]struct{})
	var out []string
	for _, id := range current {
		if !resolver.Known(id) {
			passthrough[id] = struct{}{}
			out = append(out, id)
		}
	}

	named := make([]string, 0, len(desired))
	for _, name := range desired {
		if _, ok := passthrough[name]; ok {
			continue
		}
		named = append(named, name)
	}
	return append(resolver.TranslateBack(named), out...)
}

// ApplyWorkflow moves every message of threadID to the target workflow
// state.
func (e *Executor) ApplyWorkflow(ctx context.Context, threadID string, target WorkflowLabel) (*Result, error) {
	return e.ApplyToThread(ctx, threadID, WorkflowUpdate{Target: target}, 0)
}
