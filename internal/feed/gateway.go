// Package feed implements a lazy paginated feed: a controller that fetches
// pages on demand, caches them per context and sub key, and drops responses
// that arrive for a context the user already left.
//
// Controllers are driven like a bubbletea model. Operations return a tea.Cmd
// that performs the fetch off the update goroutine, and the resulting message
// is handed back through Update. All controller state is touched only from
// the goroutine that calls its methods.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ContextKey identifies an independent feed, e.g. a symbol or a
// recommendation criterion for a user.
type ContextKey string

// Single is the sub key type for feeds that have exactly one partition.
type Single struct{}

func (Single) String() string { return "-" }

// Request addresses one page of one sub key.
type Request[S comparable] struct {
	Context ContextKey
	Sub     S
	Page    int
}

// Page is one batch of items. Index is the zero-based page that produced it.
type Page[T any] struct {
	Items      []T
	Index      int
	IsLastPage bool
}

// Fetcher retrieves a single page. Implementations never retry and must not
// depend on controller state.
type Fetcher[S comparable, T any] interface {
	Fetch(ctx context.Context, req Request[S]) (Page[T], error)
}

// FetchFunc adapts a plain function to Fetcher.
type FetchFunc[S comparable, T any] func(ctx context.Context, req Request[S]) (Page[T], error)

func (f FetchFunc[S, T]) Fetch(ctx context.Context, req Request[S]) (Page[T], error) {
	return f(ctx, req)
}

// DefaultFetchTimeout bounds a single fetch when no timeout is configured.
const DefaultFetchTimeout = 10 * time.Second

// WithTimeout bounds every fetch by d. A fetch that never resolves would
// otherwise leave its cursor in flight forever.
func WithTimeout[S comparable, T any](f Fetcher[S, T], d time.Duration) Fetcher[S, T] {
	if d <= 0 {
		d = DefaultFetchTimeout
	}
	return FetchFunc[S, T](func(ctx context.Context, req Request[S]) (Page[T], error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		page, err := f.Fetch(ctx, req)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Page[T]{}, fmt.Errorf("fetch timed out after %s: %w", d, err)
		}
		return page, err
	})
}

// RetryPolicy configures WithRetry.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	// Permanent reports errors that must not be retried. Nil retries all.
	Permanent func(error) bool
}

// WithRetry retries failed fetches with exponential backoff. It is a caller
// decision layered on top of a gateway; the controller never retries.
func WithRetry[S comparable, T any](f Fetcher[S, T], p RetryPolicy) Fetcher[S, T] {
	if p.MaxAttempts <= 1 {
		return f
	}
	return FetchFunc[S, T](func(ctx context.Context, req Request[S]) (Page[T], error) {
		b := backoff.NewExponentialBackOff()
		if p.InitialInterval > 0 {
			b.InitialInterval = p.InitialInterval
		}
		b.MaxElapsedTime = 0
		policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)

		return backoff.RetryWithData(func() (Page[T], error) {
			page, err := f.Fetch(ctx, req)
			if err != nil && p.Permanent != nil && p.Permanent(err) {
				return page, backoff.Permanent(err)
			}
			return page, err
		}, policy)
	})
}
