package logging

import (
	"io"
	"log/slog"
	"sort"
	"strings"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation = "operation"
	KeyComponent = "component"
	KeyThread    = "thread_id"
	KeyMessage   = "message_id"
	KeyState     = "state"
	KeyLabels    = "labels"
	KeyAttempt   = "attempt"
	KeyDuration  = "duration"
	KeyStatus    = "status"
	KeyError     = "error"
	KeyPayload   = "payload"
)

// Status values for consistent logging.
// Note: These are intentionally duplicated from instrumentation package
// to avoid circular dependencies (instrumentation imports logging).
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// maxPayloadLen bounds raw provider payloads written to logs.
const maxPayloadLen = 512

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithComponent returns a logger with the component attribute set.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String(KeyComponent, component))
}

// WithThread returns a logger scoped to one thread.
func WithThread(logger *slog.Logger, threadID string) *slog.Logger {
	return logger.With(slog.String(KeyThread, threadID))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Thread returns a slog attribute for a thread id.
func Thread(id string) slog.Attr {
	return slog.String(KeyThread, id)
}

// Message returns a slog attribute for a message id.
func Message(id string) slog.Attr {
	return slog.String(KeyMessage, id)
}

// State returns a slog attribute for an operation state.
func State(state string) slog.Attr {
	return slog.String(KeyState, state)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Labels returns a slog attribute listing label names in sorted order.
func Labels(names []string) slog.Attr {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return slog.String(KeyLabels, strings.Join(sorted, ","))
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
// This allows safely passing Err(maybeNilErr) without adding empty attributes.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// Payload returns a slog attribute carrying a raw provider payload,
// truncated so a runaway model response cannot flood the log.
func Payload(raw []byte) slog.Attr {
	s := string(raw)
	if len(s) > maxPayloadLen {
		s = s[:maxPayloadLen] + "...(truncated)"
	}
	return slog.String(KeyPayload, s)
}

// Config selects the handler used by New.
type Config struct {
	// Level is one of debug, info, warn, error (default: info).
	Level string `yaml:"level"`

	// Format is "text" or "json" (default: text).
	Format string `yaml:"format"`
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a slog.Logger writing to w according to cfg.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDefault returns logger, or slog.Default() when logger is nil.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
