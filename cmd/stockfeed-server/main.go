package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockfeed/internal/config"
	"stockfeed/internal/httpapi"
	"stockfeed/internal/preferences"
	"stockfeed/internal/store"
	"stockfeed/internal/util"
)

const (
	viewRetention = 7 * 24 * time.Hour
	pruneInterval = time.Hour
)

func configPath() string {
	if p := os.Getenv("STOCKFEED_CONFIG"); p != "" {
		return p
	}
	const def = "config/stockfeed.yaml"
	if _, err := os.Stat(def); err == nil {
		return def
	}
	return ""
}

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	// Create stores and server.
	bars := store.NewParquetStore(cfg.Storage.DataDir)
	portfolios, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer portfolios.Close()
	prefs := preferences.NewStore(cfg.Storage.PreferencesPath, logger)

	srv := httpapi.NewServer(bars, portfolios, prefs, logger, cfg.Feed.PageSize)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: srv.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go pruneViews(ctx, portfolios, logger)

	go func() {
		logger.Info("stockfeed server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down stockfeed server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// pruneViews drops symbol views older than the trending retention window.
func pruneViews(ctx context.Context, s *store.SQLiteStore, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.PruneViews(ctx, now.Add(-viewRetention))
			if err != nil {
				logger.Warn("pruning symbol views", "error", err)
				continue
			}
			logger.Debug("pruned symbol views", "rows", n)
		}
	}
}
