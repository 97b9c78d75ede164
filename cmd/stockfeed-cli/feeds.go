package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stockfeed/internal/config"
	"stockfeed/internal/dashboard"
	"stockfeed/internal/domain"
	"stockfeed/internal/feed"
	"stockfeed/internal/preferences"
	"stockfeed/internal/source"
	"stockfeed/internal/store"
	"stockfeed/pkg/stockfeed"
)

var (
	flagInterval string
	flagPages    int
	flagCrit     string
	flagUser     string
	flagLimit    int
)

var barsCmd = &cobra.Command{
	Use:   "bars SYMBOL",
	Short: "Page through the bars of a symbol, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runBars,
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Page through recommended portfolios",
	RunE:  runRecommend,
}

var trendingCmd = &cobra.Command{
	Use:   "trending",
	Short: "Show the most viewed symbols of the last day",
	RunE:  runTrending,
}

func init() {
	barsCmd.Flags().StringVar(&flagInterval, "interval", "day", "bar interval: day, week or month")
	barsCmd.Flags().IntVar(&flagPages, "pages", 1, "number of pages to load")

	recommendCmd.Flags().StringVar(&flagCrit, "criterion", string(domain.CriterionPortfolio), "portfolio, preference or random")
	recommendCmd.Flags().StringVar(&flagUser, "user", "", "user to recommend for (default from config)")
	recommendCmd.Flags().IntVar(&flagPages, "pages", 1, "number of pages to load")

	trendingCmd.Flags().IntVar(&flagLimit, "limit", 10, "number of symbols")
}

// collect drives c until pages pages are loaded, the feed is exhausted or
// a fetch fails.
func collect[S comparable, T any](ctx context.Context, c *feed.Controller[S, T], first tea.Cmd, pages int) (feed.State[S, T], error) {
	loop := feed.NewLoop()
	loop.Go(first)
	err := loop.Drain(ctx, func(msg tea.Msg) tea.Cmd {
		if !c.Update(msg) {
			return nil
		}
		st := c.Snapshot()
		if st.Err != nil || st.Exhausted || st.Index+1 >= pages {
			return nil
		}
		return c.OnLoadMoreSignal()
	})
	if err != nil {
		return feed.State[S, T]{}, err
	}
	st := c.Snapshot()
	return st, st.Err
}

func fetchContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	// Every page may retry with backoff; leave room for all of them.
	budget := time.Duration(max(flagPages, 1)*cfg.Feed.Retry.MaxAttempts) * (cfg.Feed.FetchTimeout + cfg.Feed.Retry.InitialInterval*4)
	return context.WithTimeout(context.Background(), budget)
}

func runBars(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	iv, err := domain.ParseInterval(flagInterval)
	if err != nil {
		return err
	}

	var fetcher feed.Fetcher[domain.Interval, domain.Bar]
	if flagLocal {
		fetcher = source.LocalBars(store.NewParquetStore(cfg.Storage.DataDir), cfg.Feed.PageSize)
	} else {
		fetcher = source.Bars(stockfeed.NewClient(cfg.Client.ServerURL), cfg.Feed.PageSize)
	}
	fetcher = source.Decorate(fetcher, cfg.Feed.FetchTimeout, cfg.Feed.Retry.MaxAttempts, cfg.Feed.Retry.InitialInterval)

	ctx, cancel := fetchContext(cfg)
	defer cancel()
	c := feed.New(fetcher, iv, feed.WithName("bars"), feed.WithContext(ctx))
	defer c.Close()

	symbol := strings.ToUpper(args[0])
	st, err := collect(ctx, c, c.SetContext(feed.ContextKey(symbol)), flagPages)
	if errors.Is(err, feed.ErrEmptyResult) {
		fmt.Printf("no %s bars for %s\n", iv, symbol)
		return nil
	}
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Date", "Open", "High", "Low", "Close", "Chg", "Volume"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	rows := lo.Map(st.Items, func(b domain.Bar, _ int) []string {
		return []string{
			b.Timestamp.UTC().Format(time.DateOnly),
			dashboard.FormatPrice(b.Open),
			dashboard.FormatPrice(b.High),
			dashboard.FormatPrice(b.Low),
			dashboard.FormatPrice(b.Close),
			dashboard.FormatChange(b.Open, b.Close),
			dashboard.FormatInt(b.Volume),
		}
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Printf("%s %s: %d bars in %d page(s)%s\n", symbol, iv, len(st.Items), st.Index+1, lo.Ternary(st.Exhausted, ", no more history", ""))
	return nil
}

// recommendationSource picks the SDK or the local stores.
func recommendationSource(cfg *config.Config) (source.RecommendationsAPI, func(), error) {
	if !flagLocal {
		return stockfeed.NewClient(cfg.Client.ServerURL), func() {}, nil
	}
	ports, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	prefs := preferences.NewStore(cfg.Storage.PreferencesPath, slog.Default())
	return localRecommendations{ports: ports, prefs: prefs}, func() { ports.Close() }, nil
}

// localRecommendations serves recommendation pages straight from the
// portfolio and preference stores.
type localRecommendations struct {
	ports store.PortfolioStore
	prefs *preferences.Store
}

func (l localRecommendations) Recommendations(ctx context.Context, crit domain.Criterion, user string, page, size int) (stockfeed.PortfolioPage, error) {
	q := store.RecommendQuery{Criterion: crit, User: user, Page: page, Size: size}
	if crit == domain.CriterionPreference {
		p, _ := l.prefs.Get(user)
		q.Sectors = p.Sectors
	}
	ps, last, err := l.ports.Recommend(ctx, q)
	if err != nil {
		return stockfeed.PortfolioPage{}, err
	}
	return stockfeed.PortfolioPage{Criterion: string(crit), Page: page, Portfolios: ps, IsLastPage: last}, nil
}

func runRecommend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	crit, err := domain.ParseCriterion(flagCrit)
	if err != nil {
		return err
	}
	user := flagUser
	if user == "" {
		user = cfg.Client.User
	}

	api, closeFn, err := recommendationSource(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := fetchContext(cfg)
	defer cancel()
	f := source.Decorate(source.Recommendations(api, cfg.Feed.PageSize), cfg.Feed.FetchTimeout, cfg.Feed.Retry.MaxAttempts, cfg.Feed.Retry.InitialInterval)
	c := feed.New(f, feed.Single{}, feed.WithName("recommendations"), feed.WithContext(ctx))
	defer c.Close()

	st, err := collect(ctx, c, c.ToggleCriterion(source.RecommendationKey(crit, user)), flagPages)
	if errors.Is(err, feed.ErrEmptyResult) {
		fmt.Printf("no %s recommendations\n", crit)
		return nil
	}
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"#", "Owner", "Views", "Holdings", "Sectors", "Top holdings"})
	rows := lo.Map(st.Items, func(p domain.Portfolio, i int) []string {
		top := lo.Map(lo.Slice(p.Proportions(map[string]decimal.Decimal{}), 0, 3), func(h domain.Holding, _ int) string {
			return h.Symbol + " " + dashboard.FormatShare(h.Proportion)
		})
		return []string{
			fmt.Sprintf("%d", i+1),
			p.Owner,
			dashboard.FormatInt(p.Hits),
			fmt.Sprintf("%d", len(p.Items)),
			strings.Join(p.Sectors(), ", "),
			strings.Join(top, " "),
		}
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func runTrending(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Feed.FetchTimeout)
	defer cancel()

	var top []store.SymbolCount
	if flagLocal {
		ports, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer ports.Close()
		top, err = ports.Trending(ctx, time.Now().Add(-24*time.Hour), flagLimit)
		if err != nil {
			return err
		}
	} else {
		top, err = stockfeed.NewClient(cfg.Client.ServerURL).Trending(ctx, flagLimit)
		if err != nil {
			return err
		}
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Symbol", "Views"})
	rows := lo.Map(top, func(s store.SymbolCount, _ int) []string {
		return []string{s.Symbol, dashboard.FormatInt(int64(s.Count))}
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
