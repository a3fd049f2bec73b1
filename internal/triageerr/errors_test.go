package triageerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestProviderError_Transient(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want bool
	}{
		{"500", &ProviderError{Code: 500}, true},
		{"503", &ProviderError{Code: 503}, true},
		{"429", &ProviderError{Code: 429}, true},
		{"400", &ProviderError{Code: 400}, false},
		{"404", &ProviderError{Code: 404}, false},
		{"403", &ProviderError{Code: 403}, false},
		{"deadline", &ProviderError{Err: context.DeadlineExceeded}, true},
		{"network", &ProviderError{Err: timeoutErr{}}, true},
		{"no code no cause", &ProviderError{Err: errors.New("weird")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Transient())
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", &ProviderError{Op: "modify", Code: 502})))
	assert.False(t, IsTransient(fmt.Errorf("wrapped: %w", &ProviderError{Op: "modify", Code: 400})))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, KindUserRejectable, Kind(fmt.Errorf("x: %w", ErrBusy)))
	assert.Equal(t, KindTransient, Kind(&ProviderError{Code: 500}))
	assert.Equal(t, KindPermanent, Kind(&ProviderError{Code: 404}))
	assert.Equal(t, KindValidation, Kind(&ValidationError{Source: "classifier"}))
	assert.Equal(t, KindStorage, Kind(&StorageError{Op: "save", Err: errors.New("disk full")}))
	assert.Equal(t, KindPartial, Kind(&PartialFailure{Primary: "draft", Secondary: "labels", Err: &ProviderError{Code: 500}}))
	assert.Equal(t, KindCanceled, Kind(context.Canceled))
	assert.Equal(t, KindUnknown, Kind(errors.New("plain")))
}

func TestErrorStrings(t *testing.T) {
	pe := &ProviderError{Op: "gmail.messages.modify", Code: 429, Reason: "rateLimitExceeded", Err: errors.New("slow down")}
	assert.Equal(t, "gmail.messages.modify: status 429 (rateLimitExceeded): slow down", pe.Error())

	ve := &ValidationError{Source: "classifier", Reason: "labels must be an array"}
	assert.Equal(t, "invalid classifier output: labels must be an array", ve.Error())

	pf := &PartialFailure{Primary: "draft saved", Secondary: "label update", Err: errors.New("boom")}
	assert.Contains(t, pf.Error(), "draft saved succeeded but label update failed")
	assert.ErrorIs(t, &StorageError{Op: "save", Err: context.DeadlineExceeded}, context.DeadlineExceeded)
}
