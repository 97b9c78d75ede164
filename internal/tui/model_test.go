package tui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockfeed/internal/domain"
	"stockfeed/internal/feed"
	"stockfeed/internal/source"
	"stockfeed/pkg/stockfeed"
)

type fakeAPI struct {
	mu        sync.Mutex
	hits      []string
	trending  []stockfeed.SymbolCount
	portfolio map[string]stockfeed.PortfolioView
	symbols   []string
	prefixes  []string
}

func (f *fakeAPI) Portfolio(_ context.Context, user string) (stockfeed.PortfolioView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	view, ok := f.portfolio[user]
	if !ok {
		return stockfeed.PortfolioView{}, &stockfeed.APIError{StatusCode: http.StatusNotFound, Message: "no portfolio"}
	}
	return view, nil
}

func (f *fakeAPI) SearchSymbols(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefix)
	return lo.Filter(f.symbols, func(s string, _ int) bool { return strings.HasPrefix(s, prefix) }), nil
}

func (f *fakeAPI) Trending(context.Context, int) ([]stockfeed.SymbolCount, error) {
	return f.trending, nil
}

func (f *fakeAPI) RecordHit(_ context.Context, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, owner)
	return nil
}

type barsFake struct {
	mu    sync.Mutex
	calls []feed.Request[domain.Interval]
	fail  bool
}

func (f *barsFake) Fetch(_ context.Context, req feed.Request[domain.Interval]) (feed.Page[domain.Bar], error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return feed.Page[domain.Bar]{}, errors.New("connection refused")
	}
	start := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for i := 0; i < 5; i++ {
		bars = append(bars, domain.Bar{
			Symbol:    string(req.Context),
			Timestamp: start.AddDate(0, 0, -(req.Page*5 + i)),
			Open:      10, Close: 11, Volume: 1000,
		})
	}
	return feed.Page[domain.Bar]{Items: bars, IsLastPage: req.Page >= 1}, nil
}

type recsFake struct {
	mu    sync.Mutex
	calls []feed.Request[feed.Single]
}

func (f *recsFake) Fetch(_ context.Context, req feed.Request[feed.Single]) (feed.Page[domain.Portfolio], error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	crit, _, err := source.ParseRecommendationKey(req.Context)
	if err != nil {
		return feed.Page[domain.Portfolio]{}, err
	}
	var out []domain.Portfolio
	for i := 0; i < 4; i++ {
		out = append(out, domain.Portfolio{
			Owner: fmt.Sprintf("%s-%d-%d-%d", crit, req.Page, i, n),
			Items: []domain.PortfolioItem{
				{Symbol: "TSLA", Sector: "Consumer Cyclical", Quantity: decimal.NewFromInt(1), AvgPrice: decimal.NewFromInt(100)},
				{Symbol: "NVDA", Sector: "Technology", Quantity: decimal.NewFromInt(5), AvgPrice: decimal.NewFromInt(100)},
			},
		})
	}
	return feed.Page[domain.Portfolio]{Items: out, IsLastPage: !crit.Paginated() || req.Page >= 2}, nil
}

func (f *recsFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	m    *Model
	bars *barsFake
	recs *recsFake
	api  *fakeAPI
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{bars: &barsFake{}, recs: &recsFake{}, api: &fakeAPI{
		trending: []stockfeed.SymbolCount{{Symbol: "AMD", Count: 4}, {Symbol: "IBM", Count: 1}},
		portfolio: map[string]stockfeed.PortfolioView{
			"me": {
				Portfolio: domain.Portfolio{Owner: "me", Items: []domain.PortfolioItem{
					{ID: 1, Symbol: "AAPL", Sector: "Technology", Quantity: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(150)},
					{ID: 2, Symbol: "XOM", Sector: "Energy", Quantity: decimal.NewFromInt(5), AvgPrice: decimal.NewFromInt(100)},
				}},
				Holdings: []domain.Holding{
					{Symbol: "AAPL", Value: decimal.NewFromInt(1500), Proportion: decimal.RequireFromString("0.75")},
					{Symbol: "XOM", Value: decimal.NewFromInt(500), Proportion: decimal.RequireFromString("0.25")},
				},
				Total: decimal.NewFromInt(2000),
			},
		},
		symbols: []string{"MSFT", "MSTR", "MU", "AAPL"},
	}}
	opts.Bars, opts.Recs, opts.API = f.bars, f.recs, f.api
	if opts.User == "" {
		opts.User = "me"
	}
	f.m = New(context.Background(), opts)
	f.m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	f.settle(t, f.m.Init())
	return f
}

// settle runs cmd and everything it leads to until the model goes quiet.
// Timers never fire within the window, so ticks are left out.
func (f *fixture) settle(t *testing.T, cmd tea.Cmd) {
	t.Helper()
	loop := feed.NewLoop()
	loop.Go(cmd)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := loop.Drain(ctx, func(msg tea.Msg) tea.Cmd {
		switch msg.(type) {
		case spinner.TickMsg, trendingTickMsg, toastExpiredMsg:
			return nil
		}
		_, next := f.m.Update(msg)
		return next
	})
	if err != nil {
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}
}

func (f *fixture) key(t *testing.T, k string) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "right":
		msg = tea.KeyMsg{Type: tea.KeyRight}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	_, cmd := f.m.Update(msg)
	f.settle(t, cmd)
}

func (f *fixture) typeText(t *testing.T, s string) {
	t.Helper()
	for _, r := range s {
		_, cmd := f.m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		f.settle(t, cmd)
	}
}

func TestStartsOnRecommendations(t *testing.T) {
	f := newFixture(t, Options{})

	assert.Equal(t, screenRecs, f.m.screen)
	st := f.m.recs.Snapshot()
	assert.Equal(t, source.RecommendationKey(domain.CriterionPortfolio, "me"), st.Context)
	assert.NotEmpty(t, st.Items)
	assert.Equal(t, []stockfeed.SymbolCount{{Symbol: "AMD", Count: 4}, {Symbol: "IBM", Count: 1}}, f.m.trending)
	assert.Contains(t, f.m.View(), "Recommended portfolios")
	assert.Empty(t, f.bars.calls, "no symbol opened yet")
}

func TestRecommendationsFillTheScreen(t *testing.T) {
	f := newFixture(t, Options{})

	// Every page fits in 38 lines, so the sentinel stays visible and the
	// feed keeps loading until the last page.
	st := f.m.recs.Snapshot()
	assert.True(t, st.Exhausted)
	assert.Len(t, st.Items, 12)
	assert.Equal(t, 3, f.recs.count())
	assert.Equal(t, 2, st.Index)
}

func TestToggleCriterionRestartsFeed(t *testing.T) {
	f := newFixture(t, Options{})
	f.key(t, "down")
	require.Equal(t, 1, f.m.selected)

	f.key(t, "c")
	assert.Equal(t, domain.CriterionPreference, f.m.crit)
	assert.Equal(t, 0, f.m.selected)
	st := f.m.recs.Snapshot()
	assert.Equal(t, source.RecommendationKey(domain.CriterionPreference, "me"), st.Context)
	require.NotEmpty(t, st.Items)
	assert.Contains(t, st.Items[0].Owner, "preference-0-")

	f.key(t, "r")
	st = f.m.recs.Snapshot()
	assert.Equal(t, domain.CriterionRandom, f.m.crit)
	assert.Len(t, st.Items, 4)
	assert.True(t, st.Exhausted)
	first := st.Items[0].Owner

	// Random again draws a fresh page.
	f.key(t, "r")
	st = f.m.recs.Snapshot()
	assert.Len(t, st.Items, 4)
	assert.NotEqual(t, first, st.Items[0].Owner)

	f.key(t, "c")
	assert.Equal(t, domain.CriterionPortfolio, f.m.crit)
}

func TestOpenPortfolioRecordsHitAndShowsLargestHolding(t *testing.T) {
	f := newFixture(t, Options{})
	owner := f.m.recs.Snapshot().Items[0].Owner

	f.key(t, "enter")
	assert.Equal(t, []string{owner}, f.api.hits)
	assert.Equal(t, screenDetails, f.m.screen)
	st := f.m.details.Snapshot()
	assert.Equal(t, feed.ContextKey("NVDA"), st.Context)
	assert.NotEmpty(t, st.Items)
	assert.Contains(t, f.m.View(), "NVDA")
}

func TestDetailsTabsAndSearch(t *testing.T) {
	f := newFixture(t, Options{Symbol: "aapl"})
	assert.Equal(t, screenDetails, f.m.screen)

	st := f.m.details.Snapshot()
	assert.Equal(t, feed.ContextKey("AAPL"), st.Context)
	assert.Equal(t, domain.IntervalDay, st.Sub)
	require.NotEmpty(t, st.Items)

	f.key(t, "2")
	assert.Equal(t, domain.IntervalWeek, f.m.details.Snapshot().Sub)
	f.key(t, "right")
	assert.Equal(t, domain.IntervalMonth, f.m.details.Snapshot().Sub)

	// Back to a cached tab without a fetch.
	calls := len(f.bars.calls)
	f.key(t, "1")
	assert.Equal(t, domain.IntervalDay, f.m.details.Snapshot().Sub)
	assert.Len(t, f.bars.calls, calls)

	f.key(t, "/")
	require.True(t, f.m.searching)
	f.typeText(t, "msft")
	f.key(t, "enter")
	assert.False(t, f.m.searching)
	st = f.m.details.Snapshot()
	assert.Equal(t, feed.ContextKey("MSFT"), st.Context)
	assert.False(t, f.m.details.Cache().Has("AAPL", domain.IntervalDay))

	f.key(t, "t")
	assert.Equal(t, feed.ContextKey("AMD"), f.m.details.Snapshot().Context)
	f.key(t, "t")
	assert.Equal(t, feed.ContextKey("IBM"), f.m.details.Snapshot().Context)
}

func TestFetchFailureShowsToastAndRetries(t *testing.T) {
	f := newFixture(t, Options{})
	f.bars.fail = true

	f.key(t, "/")
	f.typeText(t, "XYZ")
	f.key(t, "enter")

	st := f.m.details.Snapshot()
	require.Error(t, st.Err)
	assert.ErrorIs(t, st.Err, feed.ErrNetworkFailure)
	assert.True(t, f.m.toastErr)
	assert.Contains(t, f.m.toast, "connection refused")
	assert.Contains(t, f.m.View(), "R to retry")

	f.bars.fail = false
	f.key(t, "R")
	st = f.m.details.Snapshot()
	assert.NoError(t, st.Err)
	assert.NotEmpty(t, st.Items)
}

func TestPreferenceChangeRefreshesRecommendations(t *testing.T) {
	f := newFixture(t, Options{Criterion: domain.CriterionPreference})
	before := f.recs.count()

	_, cmd := f.m.Update(prefEventMsg{Type: "set", User: "someone-else"})
	f.settle(t, cmd)
	assert.Equal(t, before, f.recs.count())

	_, cmd = f.m.Update(prefEventMsg{Type: "set", User: "me"})
	f.settle(t, cmd)
	assert.Greater(t, f.recs.count(), before)
	assert.Equal(t, "preferences updated", f.m.toast)
	assert.NotEmpty(t, f.m.recs.Snapshot().Items)
}

func TestWaitPreference(t *testing.T) {
	ch := make(chan stockfeed.PreferenceEvent, 1)
	ch <- stockfeed.PreferenceEvent{Type: "delete", User: "me"}
	assert.Equal(t, prefEventMsg{Type: "delete", User: "me"}, waitPreference(ch)())
	close(ch)
	assert.Equal(t, prefClosedMsg{}, waitPreference(ch)())
}

func TestQuitClosesFeeds(t *testing.T) {
	f := newFixture(t, Options{Symbol: "AAPL"})
	_, cmd := f.m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Nil(t, f.m.details.OnLoadMoreSignal())
}

func TestPadOrTrunc(t *testing.T) {
	assert.Equal(t, "ab   ", padOrTrunc("ab", 5))
	assert.Equal(t, "abc", padOrTrunc("abcdef", 3))
	assert.Equal(t, "  42", padLeft("42", 4))
}

func TestOwnPortfolioInHeader(t *testing.T) {
	f := newFixture(t, Options{})
	require.NotNil(t, f.m.portfolio)
	assert.Equal(t, "me", f.m.portfolio.Owner)
	view := f.m.View()
	assert.Contains(t, view, "my portfolio")
	assert.Contains(t, view, "AAPL 75.0%")
	assert.Contains(t, view, "XOM 25.0%")

	// A user without a portfolio sees an empty summary, not an error.
	other := newFixture(t, Options{User: "nobody"})
	assert.Nil(t, other.m.portfolio)
	assert.False(t, other.m.toastErr)
	assert.Contains(t, other.m.View(), "my portfolio: no holdings")
}

func TestReloadOwnPortfolio(t *testing.T) {
	f := newFixture(t, Options{User: "nobody"})
	require.Nil(t, f.m.portfolio)

	f.api.mu.Lock()
	f.api.portfolio["nobody"] = stockfeed.PortfolioView{
		Portfolio: domain.Portfolio{Owner: "nobody", Items: []domain.PortfolioItem{{ID: 9, Symbol: "IBM"}}},
		Holdings:  []domain.Holding{{Symbol: "IBM", Proportion: decimal.NewFromInt(1)}},
	}
	f.api.mu.Unlock()

	f.key(t, "p")
	require.NotNil(t, f.m.portfolio)
	assert.Contains(t, f.m.View(), "IBM 100.0%")
}

func TestSearchSuggestsSymbols(t *testing.T) {
	f := newFixture(t, Options{})
	f.key(t, "/")
	f.typeText(t, "ms")

	assert.Equal(t, []string{"M", "MS"}, f.api.prefixes)
	assert.Equal(t, []string{"MSFT", "MSTR"}, f.m.search.MatchedSuggestions())
	assert.Contains(t, f.m.View(), "2 matches")

	f.key(t, "tab")
	assert.Equal(t, "MSFT", f.m.search.Value())
	f.key(t, "enter")
	assert.Equal(t, feed.ContextKey("MSFT"), f.m.details.Snapshot().Context)
	assert.Empty(t, f.m.search.MatchedSuggestions())
}
