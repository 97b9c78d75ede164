// Package source adapts stockfeed backends to feed fetchers and ingests
// daily bars from Alpaca into the local store.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stockfeed/internal/domain"
	"stockfeed/internal/feed"
	"stockfeed/internal/store"
	"stockfeed/pkg/stockfeed"
)

// BarsAPI is the part of the SDK that serves chart pages.
type BarsAPI interface {
	Bars(ctx context.Context, symbol string, iv domain.Interval, page, size int) (stockfeed.BarsPage, error)
}

// RecommendationsAPI is the part of the SDK that serves recommendation
// pages.
type RecommendationsAPI interface {
	Recommendations(ctx context.Context, crit domain.Criterion, user string, page, size int) (stockfeed.PortfolioPage, error)
}

// Bars fetches chart pages for the symbol named by the context key, one
// interval per sub key.
func Bars(api BarsAPI, size int) feed.FetchFunc[domain.Interval, domain.Bar] {
	return func(ctx context.Context, req feed.Request[domain.Interval]) (feed.Page[domain.Bar], error) {
		p, err := api.Bars(ctx, string(req.Context), req.Sub, req.Page, size)
		if err != nil {
			return feed.Page[domain.Bar]{}, fmt.Errorf("bars %s/%s page %d: %w", req.Context, req.Sub, req.Page, err)
		}
		return feed.Page[domain.Bar]{Items: p.Bars, Index: req.Page, IsLastPage: p.IsLastPage}, nil
	}
}

// LocalBars serves chart pages straight from a bar store.
func LocalBars(s store.BarStore, size int) feed.FetchFunc[domain.Interval, domain.Bar] {
	return func(ctx context.Context, req feed.Request[domain.Interval]) (feed.Page[domain.Bar], error) {
		bars, last, err := s.BarPage(ctx, string(req.Context), req.Sub, req.Page, size)
		if err != nil {
			return feed.Page[domain.Bar]{}, err
		}
		return feed.Page[domain.Bar]{Items: bars, Index: req.Page, IsLastPage: last}, nil
	}
}

// RecommendationKey encodes a criterion and the requesting user as one
// context key, so that toggling either starts a fresh feed.
func RecommendationKey(crit domain.Criterion, user string) feed.ContextKey {
	return feed.ContextKey(string(crit) + ":" + user)
}

// ParseRecommendationKey reverses RecommendationKey.
func ParseRecommendationKey(key feed.ContextKey) (domain.Criterion, string, error) {
	name, user, ok := strings.Cut(string(key), ":")
	if !ok {
		return "", "", fmt.Errorf("malformed recommendation key %q", key)
	}
	crit, err := domain.ParseCriterion(name)
	if err != nil {
		return "", "", err
	}
	return crit, user, nil
}

// Recommendations fetches recommended portfolios for the criterion and user
// encoded in the context key.
func Recommendations(api RecommendationsAPI, size int) feed.FetchFunc[feed.Single, domain.Portfolio] {
	return func(ctx context.Context, req feed.Request[feed.Single]) (feed.Page[domain.Portfolio], error) {
		crit, user, err := ParseRecommendationKey(req.Context)
		if err != nil {
			return feed.Page[domain.Portfolio]{}, err
		}
		p, err := api.Recommendations(ctx, crit, user, req.Page, size)
		if err != nil {
			return feed.Page[domain.Portfolio]{}, fmt.Errorf("recommendations %s page %d: %w", crit, req.Page, err)
		}
		return feed.Page[domain.Portfolio]{Items: p.Portfolios, Index: req.Page, IsLastPage: p.IsLastPage}, nil
	}
}

// Permanent reports errors not worth retrying: client errors from the API
// and cancellation.
func Permanent(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var ae *stockfeed.APIError
	return errors.As(err, &ae) && ae.StatusCode >= 400 && ae.StatusCode < 500 &&
		ae.StatusCode != http.StatusTooManyRequests
}

// Decorate bounds each attempt of f by timeout and retries failures that
// are not Permanent, up to attempts in total.
func Decorate[S comparable, T any](f feed.Fetcher[S, T], timeout time.Duration, attempts int, initial time.Duration) feed.Fetcher[S, T] {
	return feed.WithRetry(feed.WithTimeout(f, timeout), feed.RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: initial,
		Permanent:       Permanent,
	})
}
