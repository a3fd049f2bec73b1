package instrumentation

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// LabelChange captures one label write against the mail provider for the
// audit trail. Every change the engine makes to a mailbox is recorded,
// including failed attempts, so a user can reconstruct why a message
// gained or lost a label.
type LabelChange struct {
	ThreadID  string
	MessageID string
	Update    string
	Added     []string
	Removed   []string

	// Subject is only logged when IncludeSubjects is set.
	Subject string

	Duration time.Duration
	Success  bool
	Error    string
	TraceID  string
}

// Status returns "success" or "error" based on the Success field.
func (lc *LabelChange) Status() string {
	if lc.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns slog attributes for structured logging.
func (lc *LabelChange) LogAttrs(includeSubject bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("message_id", lc.MessageID),
		slog.String("update", lc.Update),
		slog.String("added", strings.Join(lc.Added, ",")),
		slog.String("removed", strings.Join(lc.Removed, ",")),
		slog.Duration("duration", lc.Duration),
		slog.Bool("success", lc.Success),
	}

	if lc.ThreadID != "" {
		attrs = append(attrs, slog.String("thread_id", lc.ThreadID))
	}
	if includeSubject && lc.Subject != "" {
		attrs = append(attrs, slog.String("subject", lc.Subject))
	}
	if lc.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", lc.TraceID))
	}
	if lc.Error != "" {
		attrs = append(attrs, slog.String("error", lc.Error))
	}

	return attrs
}

// NewLabelChange starts a record for a write on messageID.
func NewLabelChange(ctx context.Context, messageID, update string, added, removed []string) *LabelChange {
	return &LabelChange{
		MessageID: messageID,
		Update:    update,
		Added:     added,
		Removed:   removed,
		TraceID:   GetTraceID(ctx),
	}
}

// Complete marks the change as finished.
func (lc *LabelChange) Complete(start time.Time, err error) *LabelChange {
	lc.Duration = time.Since(start)
	lc.Success = err == nil
	if err != nil {
		lc.Error = err.Error()
	}
	return lc
}

// AuditLogger writes label changes to a dedicated logger.
// A nil *AuditLogger discards everything.
type AuditLogger struct {
	logger          *slog.Logger
	includeSubjects bool
	enabled         bool
}

// NewAuditLogger creates a new AuditLogger with the given configuration.
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:          logger.With(slog.String("log_type", "audit")),
		includeSubjects: config.IncludeSubjects,
		enabled:         config.Enabled,
	}
}

// LogLabelChange writes one audit record.
func (al *AuditLogger) LogLabelChange(lc *LabelChange) {
	if al == nil || !al.enabled || lc == nil {
		return
	}

	attrs := lc.LogAttrs(al.includeSubjects)
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if lc.Success {
		al.logger.Info("label_change", args...)
	} else {
		al.logger.Warn("label_change_failed", args...)
	}
}
