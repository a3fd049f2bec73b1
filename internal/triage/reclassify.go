package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/labels"
	"github.com/teemow/inboxtriage/internal/logging"
	"github.com/teemow/inboxtriage/internal/retry"
	"github.com/teemow/inboxtriage/internal/triageerr"
)

// Classifier returns raw classifier output for a rendered thread.
type Classifier interface {
	Classify(ctx context.Context, threadContext string) (json.RawMessage, error)
}

// ContextLoader renders the newest window messages of a thread, oldest
// first.
type ContextLoader interface {
	ThreadContext(ctx context.Context, threadID string, window int) (string, error)
}

// LabelApplier applies label updates to the newest messages of a thread.
type LabelApplier interface {
	ApplyToThread(ctx context.Context, threadID string, u labels.Update, window int) (*labels.Result, error)
}

// SentFolder is the folder that marks a message as sent by the user.
const SentFolder = "SENT"

// Defaults for Options.
const (
	DefaultContextWindow = 10
	DefaultApplyWindow   = 5
	DefaultTimeout       = 30 * time.Second
)

// Options configures a Reclassifier.
type Options struct {
	// ContextWindow is how many messages the classifier sees.
	ContextWindow int

	// ApplyWindow is how many messages receive the result.
	ApplyWindow int

	// Policy is used for folder reads and classifier calls.
	Policy *retry.Policy

	// Timeout bounds each classifier attempt.
	Timeout time.Duration

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Event is a new message arriving in a thread.
type Event struct {
	ThreadID  string
	MessageID string
}

// Outcomes reported in Report.Outcome and the inbound metric.
const (
	OutcomeClassified = "classified"
	OutcomeSent       = "sent"
	OutcomeInvalid    = "invalid"
	OutcomeFailed     = "failed"
	OutcomeRejected   = "rejected"
)

// Report describes what HandleInbound did.
type Report struct {
	ThreadID  string
	MessageID string
	Outcome   string

	// Labels is the validated classifier output.
	Labels []string

	// Stripped lists classifier entries that were not AI labels.
	Stripped []string

	// Skipped explains why nothing was written.
	Skipped string

	Result *labels.Result
}

// Reclassifier refreshes the labels of a thread when a message arrives:
// a message the user sent clears the workflow state, anything else is
// classified and gets a fresh set of AI labels.
type Reclassifier struct {
	provider   labels.Provider
	applier    LabelApplier
	classifier Classifier
	loader     ContextLoader
	opts       Options
	policy     retry.Policy
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]bool
}

// NewReclassifier creates a Reclassifier.
func NewReclassifier(provider labels.Provider, applier LabelApplier, classifier Classifier, loader ContextLoader, opts Options) *Reclassifier {
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = DefaultContextWindow
	}
	if opts.ApplyWindow <= 0 {
		opts.ApplyWindow = DefaultApplyWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	policy := retry.Default()
	if opts.Policy != nil {
		policy = *opts.Policy
	}

	return &Reclassifier{
		provider:   provider,
		applier:    applier,
		classifier: classifier,
		loader:     loader,
		opts:       opts,
		policy:     policy,
		logger:     logging.WithComponent(logging.OrDefault(opts.Logger), "triage"),
		active:     map[string]bool{},
	}
}

// HandleInbound processes one inbound message. A second event for a thread
// that is still being processed is rejected and reported, not queued.
func (r *Reclassifier) HandleInbound(ctx context.Context, ev Event) (Report, error) {
	report := Report{ThreadID: ev.ThreadID, MessageID: ev.MessageID}
	if ev.ThreadID == "" || ev.MessageID == "" {
		return report, fmt.Errorf("inbound event needs thread and message id")
	}

	if !r.acquire(ev.ThreadID) {
		r.logger.Info("thread already being classified, ignoring event",
			logging.Thread(ev.ThreadID), logging.Message(ev.MessageID))
		report.Outcome = OutcomeRejected
		report.Skipped = "classification already in progress"
		r.opts.Metrics.RecordInbound(ctx, report.Outcome)
		r.opts.Metrics.RecordRejectedTrigger(ctx, "reclassify")
		return report, nil
	}
	defer r.release(ev.ThreadID)

	attrs := instrumentation.NewSpanAttributeBuilder().
		WithThread(ev.ThreadID).
		WithMessage(ev.MessageID).
		Build()
	ctx, span := instrumentation.StartSpan(ctx, "triage.inbound", attrs...)

	err := r.handle(ctx, ev, &report)
	if err != nil && report.Outcome == "" {
		report.Outcome = OutcomeFailed
	}
	instrumentation.EndSpan(span, err)
	r.opts.Metrics.RecordInbound(ctx, report.Outcome)

	r.logger.Info("inbound message handled",
		logging.Thread(ev.ThreadID), logging.Message(ev.MessageID),
		logging.Status(report.Outcome), logging.Labels(report.Labels),
		logging.Err(err))
	return report, err
}

func (r *Reclassifier) handle(ctx context.Context, ev Event, report *Report) error {
	sent, err := r.isSent(ctx, ev.MessageID)
	if err != nil {
		return err
	}

	if sent {
		report.Outcome = OutcomeSent
		// The workflow label lives on every message; clear all of them.
		res, err := r.applier.ApplyToThread(ctx, ev.ThreadID, labels.WorkflowUpdate{Target: labels.WorkflowNone}, 0)
		report.Result = res
		if err != nil {
			return err
		}
		return res.Err()
	}

	threadContext, err := retry.Value(ctx, r.policy, "triage.context", func(ctx context.Context) (string, error) {
		return r.loader.ThreadContext(ctx, ev.ThreadID, r.opts.ContextWindow)
	})
	if err != nil {
		return fmt.Errorf("failed to load thread %s: %w", ev.ThreadID, err)
	}

	raw, err := retry.Value(ctx, r.policy.WithTimeout(r.opts.Timeout), "triage.classify", func(ctx context.Context) (json.RawMessage, error) {
		return r.classifier.Classify(ctx, threadContext)
	})
	if err == nil {
		report.Labels, report.Stripped, err = validateLabels(raw)
	}
	var ve *triageerr.ValidationError
	if errors.As(err, &ve) {
		r.logger.Warn("invalid classifier output, leaving labels alone",
			logging.Thread(ev.ThreadID), slog.String("reason", ve.Reason), logging.Payload(ve.Raw))
		report.Outcome = OutcomeInvalid
		report.Skipped = "invalid classifier output"
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to classify thread %s: %w", ev.ThreadID, err)
	}
	for _, s := range report.Stripped {
		r.logger.Warn("dropping classifier label", logging.Thread(ev.ThreadID), slog.String("label", s))
	}

	report.Outcome = OutcomeClassified
	res, err := r.applier.ApplyToThread(ctx, ev.ThreadID, labels.AIUpdate{Labels: report.Labels}, r.opts.ApplyWindow)
	report.Result = res
	if err != nil {
		return err
	}
	return res.Err()
}

// isSent reports whether messageID is in the sent folder, using fresh
// folder metadata.
func (r *Reclassifier) isSent(ctx context.Context, messageID string) (bool, error) {
	folders, err := retry.Value(ctx, r.policy, "triage.folders", r.provider.ListFolders)
	if err != nil {
		return false, fmt.Errorf("failed to list folders: %w", err)
	}
	ids, err := retry.Value(ctx, r.policy, "triage.message", func(ctx context.Context) ([]string, error) {
		return r.provider.GetMessageLabels(ctx, messageID)
	})
	if err != nil {
		return false, fmt.Errorf("failed to read message %s: %w", messageID, err)
	}

	resolver := labels.BuildResolver(folders, r.logger)
	for _, id := range ids {
		if id == SentFolder {
			return true, nil
		}
		if name, ok := resolver.NameFor(id); ok && name == SentFolder {
			return true, nil
		}
	}
	return false, nil
}

func (r *Reclassifier) acquire(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[threadID] {
		return false
	}
	r.active[threadID] = true
	return true
}

func (r *Reclassifier) release(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, threadID)
}
