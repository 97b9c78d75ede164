// Package store defines storage for stockfeed: daily bars in Parquet files
// and portfolios with their hit counts in SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"stockfeed/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and pages OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of daily bars, replacing bars with the same
	// symbol and timestamp.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns daily bars for symbol within [start, end], ascending.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// BarPage returns page (zero-based, newest first) of bars aggregated to
	// the interval, and whether it is the last page.
	BarPage(ctx context.Context, symbol string, iv domain.Interval, page, size int) ([]domain.Bar, bool, error)

	// LatestCloses returns the most recent close for each known symbol.
	LatestCloses(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)

	// ListSymbols returns all symbols with stored bars, sorted.
	ListSymbols(ctx context.Context) ([]string, error)
}

// RecommendQuery selects a page of recommended portfolios.
type RecommendQuery struct {
	Criterion domain.Criterion
	// User is excluded from the results.
	User string
	// Sectors restricts the preference criterion to portfolios holding any
	// of them.
	Sectors []string
	Page    int
	Size    int
}

// SymbolCount is a symbol with its number of recent views.
type SymbolCount struct {
	Symbol string `json:"symbol"`
	Count  int    `json:"count"`
}

// PortfolioStore persists portfolios and the hit counters that drive
// recommendations.
type PortfolioStore interface {
	Portfolio(ctx context.Context, owner string) (domain.Portfolio, error)
	AddItem(ctx context.Context, owner string, item domain.PortfolioItem) (domain.PortfolioItem, error)
	UpdateItem(ctx context.Context, owner string, item domain.PortfolioItem) error
	DeleteItem(ctx context.Context, owner string, id int64) error

	// RecordHit counts one visit to owner's portfolio.
	RecordHit(ctx context.Context, owner string) error

	// Recommend returns one page of portfolios and whether it is the last.
	Recommend(ctx context.Context, q RecommendQuery) ([]domain.Portfolio, bool, error)

	// RecordView counts one view of a symbol's details.
	RecordView(ctx context.Context, symbol string, at time.Time) error

	// Trending returns the most viewed symbols since the given time.
	Trending(ctx context.Context, since time.Time, limit int) ([]SymbolCount, error)
}
