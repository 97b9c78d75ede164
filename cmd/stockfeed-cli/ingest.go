package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stockfeed/internal/source"
	"stockfeed/internal/store"
	"stockfeed/internal/util"
)

var (
	flagIngestStart   string
	flagIngestEnd     string
	flagIngestBatch   int
	flagIngestWorkers int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [SYMBOL...]",
	Short: "Download daily bars from Alpaca into the local bar store",
	Long: `Download daily bars for the given symbols from Alpaca and merge them into
the local parquet store. Without symbols, every symbol already in the store
is refreshed. The end date defaults to the latest finished trading day.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&flagIngestStart, "start", "", "first day to fetch, YYYY-MM-DD (default one year before end)")
	ingestCmd.Flags().StringVar(&flagIngestEnd, "end", "", "last day to fetch, YYYY-MM-DD (default latest finished trading day)")
	ingestCmd.Flags().IntVar(&flagIngestBatch, "batch", 100, "symbols per API request")
	ingestCmd.Flags().IntVar(&flagIngestWorkers, "workers", 4, "concurrent requests")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		return fmt.Errorf("alpaca credentials missing: set APCA_API_KEY_ID and APCA_API_SECRET_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	symbols := args
	if len(symbols) == 0 {
		symbols, err = bars.ListSymbols(ctx)
		if err != nil {
			return fmt.Errorf("listing stored symbols: %w", err)
		}
		if len(symbols) == 0 {
			return fmt.Errorf("no symbols given and none stored yet")
		}
	}

	end, err := ingestEnd(ctx, cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	if err != nil {
		return err
	}
	start := end.AddDate(-1, 0, 0)
	if flagIngestStart != "" {
		if start, err = time.Parse(time.DateOnly, flagIngestStart); err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
	}
	if start.After(end) {
		return fmt.Errorf("start %s is after end %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	md := source.NewMarketData(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	limiter := util.NewRateLimiter(cfg.Alpaca.RateLimitPerMin, flagIngestWorkers)
	g := source.NewIngester(md, bars, limiter, cfg.Alpaca.Feed, flagIngestBatch, flagIngestWorkers)

	stats, err := g.Run(ctx, symbols, start, end.Add(24*time.Hour-time.Nanosecond))
	if err != nil {
		return err
	}
	fmt.Printf("ingested %d bars for %d symbols (%d without data)\n", stats.Bars, stats.Hits, len(stats.Empty))
	return nil
}

// ingestEnd resolves --end, asking the Alpaca calendar when it is unset.
func ingestEnd(ctx context.Context, key, secret, baseURL string) (time.Time, error) {
	if flagIngestEnd != "" {
		end, err := time.Parse(time.DateOnly, flagIngestEnd)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
		return end, nil
	}

	cal := source.NewCalendar(key, secret, baseURL)
	var end time.Time
	err := util.Retry(ctx, 3, time.Second, func() error {
		var err error
		end, err = source.LatestFinishedTradingDay(cal, time.Now())
		if err != nil {
			slog.Warn("calendar lookup failed", "error", err)
		}
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("resolving latest trading day: %w", err)
	}
	return end, nil
}
