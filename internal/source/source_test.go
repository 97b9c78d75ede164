package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockfeed/internal/domain"
	"stockfeed/internal/feed"
	"stockfeed/internal/store"
	"stockfeed/pkg/stockfeed"
)

type fakeBarsAPI struct {
	calls []string
	err   error
}

func (f *fakeBarsAPI) Bars(_ context.Context, symbol string, iv domain.Interval, page, size int) (stockfeed.BarsPage, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%s/%d/%d", symbol, iv, page, size))
	if f.err != nil {
		return stockfeed.BarsPage{}, f.err
	}
	return stockfeed.BarsPage{
		Bars:       []domain.Bar{{Symbol: symbol, Close: float64(page)}},
		IsLastPage: page == 1,
	}, nil
}

func TestBarsFetcher(t *testing.T) {
	api := &fakeBarsAPI{}
	f := Bars(api, 25)

	page, err := f.Fetch(context.Background(), feed.Request[domain.Interval]{Context: "AAPL", Sub: domain.IntervalWeek, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL/week/1/25"}, api.calls)
	assert.Equal(t, 1, page.Index)
	assert.True(t, page.IsLastPage)
	assert.Len(t, page.Items, 1)

	api.err = &stockfeed.APIError{StatusCode: http.StatusBadGateway, Message: "upstream"}
	_, err = f.Fetch(context.Background(), feed.Request[domain.Interval]{Context: "AAPL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bars AAPL/day page 0")
	assert.False(t, Permanent(err), "5xx is retryable")
}

type fakeRecAPI struct {
	crit domain.Criterion
	user string
}

func (f *fakeRecAPI) Recommendations(_ context.Context, crit domain.Criterion, user string, page, size int) (stockfeed.PortfolioPage, error) {
	f.crit, f.user = crit, user
	return stockfeed.PortfolioPage{Portfolios: make([]domain.Portfolio, size), IsLastPage: crit == domain.CriterionRandom}, nil
}

func TestRecommendationKeyRoundTrip(t *testing.T) {
	key := RecommendationKey(domain.CriterionPreference, "u:1")
	crit, user, err := ParseRecommendationKey(key)
	require.NoError(t, err)
	assert.Equal(t, domain.CriterionPreference, crit)
	assert.Equal(t, "u:1", user)

	_, _, err = ParseRecommendationKey("nokey")
	assert.Error(t, err)
	_, _, err = ParseRecommendationKey("hot:u")
	assert.Error(t, err)
}

func TestRecommendationsFetcher(t *testing.T) {
	api := &fakeRecAPI{}
	f := Recommendations(api, 3)
	page, err := f.Fetch(context.Background(), feed.Request[feed.Single]{Context: RecommendationKey(domain.CriterionRandom, "me")})
	require.NoError(t, err)
	assert.Equal(t, domain.CriterionRandom, api.crit)
	assert.Equal(t, "me", api.user)
	assert.Len(t, page.Items, 3)
	assert.True(t, page.IsLastPage)
}

func TestLocalBars(t *testing.T) {
	ctx := context.Background()
	ps := store.NewParquetStore(t.TempDir())
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for i := 0; i < 3; i++ {
		bars = append(bars, domain.Bar{Symbol: "IBM", Timestamp: from.AddDate(0, 0, i), Close: float64(i)})
	}
	require.NoError(t, ps.WriteBars(ctx, bars))

	page, err := LocalBars(ps, 2).Fetch(ctx, feed.Request[domain.Interval]{Context: "IBM", Sub: domain.IntervalDay})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.False(t, page.IsLastPage)
}

func TestPermanent(t *testing.T) {
	assert.True(t, Permanent(&stockfeed.APIError{StatusCode: http.StatusBadRequest}))
	assert.True(t, Permanent(fmt.Errorf("wrapped: %w", &stockfeed.APIError{StatusCode: http.StatusNotFound})))
	assert.False(t, Permanent(&stockfeed.APIError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, Permanent(context.Canceled))
	assert.False(t, Permanent(errors.New("connection reset")))
}

func TestDecorateRetriesTransientErrors(t *testing.T) {
	api := &fakeBarsAPI{err: errors.New("connection reset")}
	calls := 0
	f := Decorate[domain.Interval, domain.Bar](feed.FetchFunc[domain.Interval, domain.Bar](
		func(ctx context.Context, req feed.Request[domain.Interval]) (feed.Page[domain.Bar], error) {
			calls++
			if calls == 3 {
				api.err = nil
			}
			return Bars(api, 10).Fetch(ctx, req)
		}), time.Second, 3, time.Millisecond)

	page, err := f.Fetch(context.Background(), feed.Request[domain.Interval]{Context: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, page.Items, 1)

	api.err = &stockfeed.APIError{StatusCode: http.StatusNotFound, Message: "no such symbol"}
	_, err = Decorate[domain.Interval, domain.Bar](Bars(api, 10), time.Second, 3, time.Millisecond).Fetch(context.Background(), feed.Request[domain.Interval]{Context: "ZZZ"})
	require.Error(t, err)
	assert.True(t, stockfeed.IsNotFound(err))
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

type fakeMarketData struct {
	mu      sync.Mutex
	batches [][]string
	failOn  string
}

func (f *fakeMarketData) GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	f.mu.Lock()
	f.batches = append(f.batches, symbols)
	f.mu.Unlock()

	out := make(map[string][]marketdata.Bar)
	for _, s := range symbols {
		if s == f.failOn {
			return nil, errors.New("boom")
		}
		if s == "EMPTY" {
			continue
		}
		for d := req.Start; !d.After(req.End); d = d.AddDate(0, 0, 1) {
			out[s] = append(out[s], marketdata.Bar{Timestamp: d, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10})
		}
	}
	return out, nil
}

func TestIngesterRun(t *testing.T) {
	ctx := context.Background()
	ps := store.NewParquetStore(t.TempDir())
	api := &fakeMarketData{}
	g := NewIngester(api, ps, nil, "iex", 2, 2)

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 2)
	stats, err := g.Run(ctx, []string{"aapl", "MSFT", "EMPTY", "AAPL"}, start, end)
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Bars)
	assert.Equal(t, 2, stats.Hits)
	assert.Equal(t, []string{"EMPTY"}, stats.Empty)
	assert.Len(t, api.batches, 2, "3 unique symbols in batches of 2")

	syms, err := ps.ListSymbols(ctx)
	require.NoError(t, err)
	sort.Strings(syms)
	assert.Equal(t, []string{"AAPL", "MSFT"}, syms)
}

func TestIngesterSkipsFailedBatch(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	api := &fakeMarketData{failOn: "BAD"}
	g := NewIngester(api, ps, nil, "sip", 1, 1)

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	stats, err := g.Run(context.Background(), []string{"BAD", "GOOD"}, day, day)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Bars)
}

type fakeCalendar []alpaca.CalendarDay

func (f fakeCalendar) GetCalendar(alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	return f, nil
}

func TestLatestFinishedTradingDay(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	cal := fakeCalendar{{Date: "2024-06-13"}, {Date: "2024-06-14"}}

	// Friday evening after the cutoff: today counts.
	day, err := LatestFinishedTradingDay(cal, time.Date(2024, 6, 14, 21, 0, 0, 0, et))
	require.NoError(t, err)
	assert.Equal(t, "2024-06-14", day.Format("2006-01-02"))

	// Friday afternoon: the session is still settling.
	day, err = LatestFinishedTradingDay(cal, time.Date(2024, 6, 14, 15, 0, 0, 0, et))
	require.NoError(t, err)
	assert.Equal(t, "2024-06-13", day.Format("2006-01-02"))

	_, err = LatestFinishedTradingDay(fakeCalendar{}, time.Now())
	assert.Error(t, err)
}
