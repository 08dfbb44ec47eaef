package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrTransport          = errors.New("transport error")
	ErrServiceRejected    = errors.New("service rejected request")
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrPollTimeout        = errors.New("poll timeout")
	ErrNotReady           = errors.New("item not ready")
	ErrNoTextArtifact     = errors.New("no text artifact in archive")
	ErrServiceUnreachable = errors.New("service unreachable")
)

// TransportError is a network or HTTP-level failure talking to a remote
// endpoint. StatusCode is zero when no response was received.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTransport, e.Err}
	}
	return []error{ErrTransport}
}

// Temporary reports whether retrying the same request may succeed.
func (e *TransportError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return !errors.Is(e.Err, context.Canceled)
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// ServiceRejectedError is an application-level refusal carried in the
// response envelope.
type ServiceRejectedError struct {
	Code string
	Msg  string
}

func (e *ServiceRejectedError) Error() string {
	return fmt.Sprintf("service rejected request: code=%s msg=%s", e.Code, e.Msg)
}

func (e *ServiceRejectedError) Unwrap() error { return ErrServiceRejected }

// PollTimeoutError is returned when a batch did not finish before the
// deadline. Snapshot holds the last observed item states.
type PollTimeoutError struct {
	BatchID  string
	Snapshot []BatchItem
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("batch %s: poll timeout with %d/%d items terminal",
		e.BatchID, CountTerminal(e.Snapshot), len(e.Snapshot))
}

func (e *PollTimeoutError) Unwrap() error { return ErrPollTimeout }

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Classify maps err to a failure kind. fallback is used for errors that carry
// no taxonomy of their own, which lets callers attribute them to the stage
// that produced them.
func Classify(err error, fallback FailureKind) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.Is(err, ErrServiceUnreachable):
		return FailureServiceUnreachable
	case errors.Is(err, ErrServiceRejected):
		return FailureServiceRejected
	case errors.Is(err, ErrProtocolViolation):
		return FailureProtocolViolation
	case errors.Is(err, ErrPollTimeout):
		return FailurePollTimeout
	case errors.Is(err, ErrNotReady):
		return FailureNotReady
	case errors.Is(err, ErrNoTextArtifact):
		return FailureNoTextArtifact
	default:
		return fallback
	}
}
