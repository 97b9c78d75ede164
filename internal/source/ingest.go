package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/samber/lo"

	"stockfeed/internal/domain"
	"stockfeed/internal/store"
	"stockfeed/internal/util"
)

// MarketDataAPI is the part of the Alpaca market data client used for
// ingestion.
type MarketDataAPI interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// NewMarketData returns an Alpaca market data client.
func NewMarketData(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// IngestStats summarises one ingestion run.
type IngestStats struct {
	Bars  int
	Hits  int
	Empty []string
}

// Ingester pulls daily bars for a set of symbols from Alpaca into a bar
// store, in batches spread over a small worker pool.
type Ingester struct {
	api        MarketDataAPI
	store      store.BarStore
	limiter    *util.RateLimiter
	feed       string
	batchSize  int
	maxWorkers int
	log        *slog.Logger
}

// NewIngester creates an Ingester. A nil limiter never waits.
func NewIngester(api MarketDataAPI, s store.BarStore, limiter *util.RateLimiter, feed string, batchSize, maxWorkers int) *Ingester {
	return &Ingester{
		api:        api,
		store:      s,
		limiter:    limiter,
		feed:       feed,
		batchSize:  max(batchSize, 1),
		maxWorkers: max(maxWorkers, 1),
		log:        slog.Default().With("ingester", "us-daily"),
	}
}

// Run fetches daily bars in [start, end] for symbols and writes them to the
// store. A failed batch is logged and skipped; Run only fails when ctx is
// cancelled.
func (g *Ingester) Run(ctx context.Context, symbols []string, start, end time.Time) (IngestStats, error) {
	symbols = lo.Uniq(lo.Map(symbols, func(s string, _ int) string { return strings.ToUpper(s) }))
	batches := lo.Chunk(symbols, g.batchSize)
	if len(batches) == 0 {
		return IngestStats{}, nil
	}

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		stats     IngestStats
		totalBars atomic.Int64
		runStart  = time.Now()
	)

	g.log.Info("starting ingest", "symbols", len(symbols), "batches", len(batches),
		"start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))

	workers := min(g.maxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range batchCh {
				if err := g.limiter.Wait(ctx); err != nil {
					return
				}

				batch := batches[batchIdx]
				bars, err := g.fetchMultiBars(ctx, batch, start, end)
				if err != nil {
					g.log.Error("batch fetch failed",
						"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
						"err", err,
					)
					continue
				}

				hit := lo.SliceToMap(bars, func(b domain.Bar) (string, struct{}) { return b.Symbol, struct{}{} })
				empty := lo.Filter(batch, func(sym string, _ int) bool {
					_, ok := hit[sym]
					return !ok
				})

				if len(bars) > 0 {
					if err := g.store.WriteBars(ctx, bars); err != nil {
						g.log.Error("writing bars failed", "err", err)
						continue
					}
				}
				totalBars.Add(int64(len(bars)))

				mu.Lock()
				stats.Hits += len(hit)
				stats.Empty = append(stats.Empty, empty...)
				mu.Unlock()

				g.log.Info("batch done",
					"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
					"hits", len(hit),
					"empty", len(empty),
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}

	wg.Wait()
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}

	stats.Bars = int(totalBars.Load())
	g.log.Info("ingest complete", "bars", stats.Bars, "hits", stats.Hits, "empty", len(stats.Empty),
		"elapsed", time.Since(runStart).Round(time.Second))
	return stats, nil
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API call.
func (g *Ingester) fetchMultiBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	multiBars, err := g.api.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      marketdata.Feed(g.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}
