package triageerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrBusy is returned when an operation is triggered while another one
	// is already running for the same thread-session. Callers log it and
	// move on; it is never shown to the user as a failure.
	ErrBusy = errors.New("operation already in progress")

	// ErrStaleToken marks a result that arrived after its session moved on.
	ErrStaleToken = errors.New("cancellation token is stale")
)

// Kind values used in logs and metric attributes.
const (
	KindUserRejectable = "user_rejectable"
	KindTransient      = "transient"
	KindPermanent      = "permanent"
	KindValidation     = "validation"
	KindStorage        = "storage"
	KindPartial        = "partial"
	KindCanceled       = "canceled"
	KindUnknown        = "unknown"
)

// ProviderError is a failed call to the mail provider or a model API.
type ProviderError struct {
	Op     string
	Code   int
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Code != 0 {
		fmt.Fprintf(&b, ": status %d", e.Code)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the call may succeed if repeated: any 5xx,
// 429, or a request that never got a status code because of a network
// failure or timeout.
func (e *ProviderError) Transient() bool {
	switch {
	case e.Code >= 500:
		return true
	case e.Code == http.StatusTooManyRequests:
		return true
	case e.Code == 0:
		return IsTimeoutOrNetwork(e.Err)
	default:
		return false
	}
}

// ValidationError is malformed output from the classifier or generator.
type ValidationError struct {
	Source string
	Reason string
	Raw    []byte
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s output: %s", e.Source, e.Reason)
}

// StorageError is a failed read or write of persisted history.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PartialFailure reports a primary action that completed while a
// secondary action did not.
type PartialFailure struct {
	Primary   string
	Secondary string
	Err       error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%s succeeded but %s failed: %v", e.Primary, e.Secondary, e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }

// IsTimeoutOrNetwork reports whether err is a deadline expiry or a
// network-level failure.
func IsTimeoutOrNetwork(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return IsTimeoutOrNetwork(err)
}

// Kind classifies err into one of the Kind constants.
func Kind(err error) string {
	var (
		pe  *ProviderError
		ve  *ValidationError
		se  *StorageError
		pfe *PartialFailure
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return KindUserRejectable
	case errors.As(err, &pfe):
		return KindPartial
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &se):
		return KindStorage
	case errors.Is(err, context.Canceled), errors.Is(err, ErrStaleToken):
		return KindCanceled
	case errors.As(err, &pe):
		if pe.Transient() {
			return KindTransient
		}
		return KindPermanent
	case IsTimeoutOrNetwork(err):
		return KindTransient
	default:
		return KindUnknown
	}
}
