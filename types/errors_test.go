package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportErrorTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  *TransportError
		want bool
	}{
		{"no response", &TransportError{Op: "GET", Err: errors.New("connection refused")}, true},
		{"canceled", &TransportError{Op: "GET", Err: context.Canceled}, false},
		{"request timeout", &TransportError{Op: "GET", StatusCode: 408}, true},
		{"too many requests", &TransportError{Op: "GET", StatusCode: 429}, true},
		{"server error", &TransportError{Op: "GET", StatusCode: 503}, true},
		{"forbidden", &TransportError{Op: "PUT", StatusCode: 403}, false},
		{"not found", &TransportError{Op: "GET", StatusCode: 404}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Temporary())
			assert.Equal(t, tt.want, IsRetryable(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	inner := errors.New("dial tcp: refused")
	err := fmt.Errorf("submit: %w", &TransportError{Op: "POST", Err: inner})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, inner)
}

func TestIsRetryableIgnoresTaxonomyErrors(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&ServiceRejectedError{Code: "-60005", Msg: "quota"}))
	assert.False(t, IsRetryable(fmt.Errorf("%w: bad body", ErrProtocolViolation)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, ""},
		{"canceled", fmt.Errorf("poll: %w", context.Canceled), FailureCanceled},
		{"unreachable", fmt.Errorf("%w: %w", ErrServiceUnreachable, &TransportError{Op: "POST", StatusCode: 502}), FailureServiceUnreachable},
		{"rejected", &ServiceRejectedError{Code: "A0202", Msg: "token invalid"}, FailureServiceRejected},
		{"protocol", fmt.Errorf("%w: no batch_id", ErrProtocolViolation), FailureProtocolViolation},
		{"poll timeout", &PollTimeoutError{BatchID: "b1"}, FailurePollTimeout},
		{"not ready", fmt.Errorf("%w: a.pdf", ErrNotReady), FailureNotReady},
		{"no text", fmt.Errorf("%w: 2 members", ErrNoTextArtifact), FailureNoTextArtifact},
		{"deadline is not cancel", context.DeadlineExceeded, FailureDownload},
		{"fallback", &TransportError{Op: "GET", StatusCode: 500}, FailureDownload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err, FailureDownload))
		})
	}
}

func TestPollTimeoutErrorMessage(t *testing.T) {
	err := &PollTimeoutError{BatchID: "b1", Snapshot: []BatchItem{
		{FileName: "a.pdf", State: ItemStateDone},
		{FileName: "b.pdf", State: ItemStateRunning},
	}}
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Contains(t, err.Error(), "1/2")
}
