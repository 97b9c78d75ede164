package feed

import (
	"errors"
	"fmt"
)

// Kind classifies a feed failure.
type Kind int

const (
	// NetworkFailure means the fetch was rejected or returned non-success.
	NetworkFailure Kind = iota + 1
	// EmptyResult means a first page succeeded with zero items.
	EmptyResult
	// StaleResponse means a completion arrived for a superseded context or
	// page. It is dropped and never surfaced in State.
	StaleResponse
)

var (
	ErrNetworkFailure = errors.New("network failure")
	ErrEmptyResult    = errors.New("empty result")
	ErrStaleResponse  = errors.New("stale response")
)

func (k Kind) String() string {
	switch k {
	case NetworkFailure:
		return "network_failure"
	case EmptyResult:
		return "empty_result"
	case StaleResponse:
		return "stale_response"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) sentinel() error {
	switch k {
	case NetworkFailure:
		return ErrNetworkFailure
	case EmptyResult:
		return ErrEmptyResult
	case StaleResponse:
		return ErrStaleResponse
	}
	return nil
}

// Error is a failure local to one feed. It matches its Kind's sentinel with
// errors.Is and unwraps to the underlying fetch error, if any.
type Error struct {
	Kind    Kind
	Context ContextKey
	Sub     string
	Page    int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("feed %s/%s page %d: %s", e.Context, e.Sub, e.Page, e.Kind.sentinel())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Recoverable reports whether a later signal may retry. Every feed error is.
func (e *Error) Recoverable() bool { return true }
