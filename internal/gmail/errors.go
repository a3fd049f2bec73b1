package gmail

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/teemow/inboxtriage/internal/triageerr"
)

// Gmail reports per-user quota exhaustion as 403 with one of these reasons.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

// mapError converts API failures into *triageerr.ProviderError. Caller
// cancellation is returned unchanged.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	pe := &triageerr.ProviderError{Op: op, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		pe.Code = gerr.Code
		if len(gerr.Errors) > 0 {
			pe.Reason = gerr.Errors[0].Reason
		}
		if pe.Code == http.StatusForbidden && rateLimitReasons[pe.Reason] {
			pe.Code = http.StatusTooManyRequests
		}
	}
	return pe
}

// isNotFound reports whether err is a 404 from the API.
func isNotFound(err error) bool {
	var pe *triageerr.ProviderError
	return errors.As(err, &pe) && pe.Code == http.StatusNotFound
}

// ErrHistoryExpired is returned by InboundSince when the start history id
// is too old for Gmail to answer.
var ErrHistoryExpired = errors.New("history id expired")
