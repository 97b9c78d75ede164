package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"stockfeed/internal/config"
	"stockfeed/internal/domain"
	"stockfeed/internal/feed"
	"stockfeed/internal/source"
	"stockfeed/internal/tui"
	"stockfeed/internal/util"
	"stockfeed/pkg/stockfeed"
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
	symbol := flag.String("symbol", "", "symbol to open on start")
	user := flag.String("user", "", "user to recommend portfolios for (overrides config)")
	crit := flag.String("criterion", string(domain.CriterionPortfolio), "initial recommendation criterion: portfolio, preference or random")
	flag.Parse()

	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if *user != "" {
		cfg.Client.User = *user
	}
	criterion, err := domain.ParseCriterion(*crit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// The screen belongs to the UI, so logs go to a file.
	logPath := cfg.Logging.File
	if logPath == "" {
		logPath = filepath.Join(os.TempDir(), fmt.Sprintf("stockfeed-client-%s.log", time.Now().Format("2006-01-02")))
	}
	logger, logFile, err := util.NewFileLogger(logPath, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	util.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := stockfeed.NewClient(cfg.Client.ServerURL)
	fc := cfg.Feed
	bars := source.Decorate[domain.Interval, domain.Bar](source.Bars(client, fc.PageSize), fc.FetchTimeout, fc.Retry.MaxAttempts, fc.Retry.InitialInterval)
	recs := source.Decorate[feed.Single, domain.Portfolio](source.Recommendations(client, fc.PageSize), fc.FetchTimeout, fc.Retry.MaxAttempts, fc.Retry.InitialInterval)

	var prefs <-chan stockfeed.PreferenceEvent
	if cfg.Client.User != "" {
		prefs, err = client.WatchPreferences(ctx)
		if err != nil {
			logger.Warn("watching preferences", "error", err)
			prefs = nil
		}
	}

	logger.Info("starting client", "server", cfg.Client.ServerURL, "user", cfg.Client.User, "log", logPath)
	m := tui.New(ctx, tui.Options{
		Bars:            bars,
		Recs:            recs,
		API:             client,
		User:            cfg.Client.User,
		Symbol:          *symbol,
		Criterion:       criterion,
		TrendingRefresh: cfg.Client.TrendingRefresh,
		Preferences:     prefs,
		Logger:          logger,
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
