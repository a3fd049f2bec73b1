// Package logging provides structured logging utilities for inboxtriage.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Handler construction from configuration (text or json, level)
//   - Consistent attribute naming for threads, messages and labels
//   - Truncation of raw model payloads before they reach the log
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "labels.apply")
//	logger.Info("label write skipped",
//	    logging.Message(id),
//	    logging.Status("unchanged"))
//
// Log a rejected classifier response:
//
//	logger.Warn("classifier output rejected", logging.Payload(raw))
package logging
