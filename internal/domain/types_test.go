package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypesExist(t *testing.T) {
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Volume != 0 || bar.TradeCount != 0 || bar.VWAP != 0 {
		t.Error("expected zero Volume/TradeCount/VWAP for zero-value Bar")
	}
	if MarketUS != "us" {
		t.Errorf("MarketUS = %q, want %q", MarketUS, "us")
	}
}

func TestParseInterval(t *testing.T) {
	for _, iv := range Intervals {
		got, err := ParseInterval(iv.String())
		require.NoError(t, err)
		assert.Equal(t, iv, got)
	}

	_, err := ParseInterval("hour")
	assert.Error(t, err)
	_, err = ParseInterval("")
	assert.Error(t, err)
}

func TestIntervalBucket(t *testing.T) {
	// 2025-03-13 is a Thursday.
	ts := time.Date(2025, 3, 13, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		iv   Interval
		want time.Time
	}{
		{IntervalDay, time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC)},
		{IntervalWeek, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)},
		{IntervalMonth, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.iv.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.iv.Bucket(ts))
		})
	}

	// Sunday belongs to the preceding Monday's week.
	sun := time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), IntervalWeek.Bucket(sun))
}

func TestIntervalAggregate(t *testing.T) {
	day := func(d int, o, h, l, c float64, v int64) Bar {
		return Bar{
			Symbol: "AAPL", Timestamp: time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC),
			Open: o, High: h, Low: l, Close: c, Volume: v, TradeCount: 1, VWAP: c,
		}
	}
	daily := []Bar{
		day(6, 10, 12, 9, 11, 100),  // Thu
		day(7, 11, 13, 10, 12, 100), // Fri
		day(10, 12, 15, 11, 14, 200), // Mon, next week
		day(11, 14, 14, 8, 9, 200),
	}

	weeks := IntervalWeek.Aggregate(daily)
	require.Len(t, weeks, 2)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), weeks[0].Timestamp)
	assert.Equal(t, 10.0, weeks[0].Open)
	assert.Equal(t, 13.0, weeks[0].High)
	assert.Equal(t, 9.0, weeks[0].Low)
	assert.Equal(t, 12.0, weeks[0].Close)
	assert.Equal(t, int64(200), weeks[0].Volume)
	assert.InDelta(t, 11.5, weeks[0].VWAP, 1e-9)
	assert.Equal(t, 8.0, weeks[1].Low)
	assert.Equal(t, int64(2), weeks[1].TradeCount)

	months := IntervalMonth.Aggregate(daily)
	require.Len(t, months, 1)
	assert.Equal(t, int64(600), months[0].Volume)
	assert.Equal(t, 15.0, months[0].High)

	days := IntervalDay.Aggregate(daily)
	assert.Equal(t, daily, days)
	days[0].Close = 0
	assert.Equal(t, 11.0, daily[0].Close, "day aggregate must not alias input")
}

func TestCriterion(t *testing.T) {
	c, err := ParseCriterion("preference")
	require.NoError(t, err)
	assert.Equal(t, CriterionPreference, c)

	_, err = ParseCriterion("popular")
	assert.Error(t, err)

	assert.Equal(t, CriterionPreference, CriterionPortfolio.Next())
	assert.Equal(t, CriterionPortfolio, CriterionPreference.Next())
	assert.Equal(t, CriterionPortfolio, CriterionRandom.Next())
	assert.False(t, CriterionRandom.Paginated())
	assert.True(t, CriterionPortfolio.Paginated())
}

func TestPortfolioProportions(t *testing.T) {
	p := Portfolio{
		Owner: "u1",
		Items: []PortfolioItem{
			{Symbol: "AAPL", Sector: "Technology", Quantity: decimal.NewFromInt(1), AvgPrice: decimal.NewFromInt(100)},
			{Symbol: "XOM", Sector: "Energy", Quantity: decimal.NewFromInt(3), AvgPrice: decimal.NewFromInt(50)},
			{Symbol: "MSFT", Sector: "Technology", Quantity: decimal.NewFromInt(1), AvgPrice: decimal.NewFromInt(10)},
		},
	}
	prices := map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(200)}

	assert.True(t, p.Total(prices).Equal(decimal.NewFromInt(360)))

	hs := p.Proportions(prices)
	require.Len(t, hs, 3)
	assert.Equal(t, "AAPL", hs[0].Symbol)
	assert.Equal(t, "0.5556", hs[0].Proportion.String())
	assert.Equal(t, "XOM", hs[1].Symbol)
	assert.Equal(t, []string{"Energy", "Technology"}, p.Sectors())

	empty := Portfolio{}
	assert.True(t, empty.Total(nil).IsZero())
	assert.Empty(t, empty.Proportions(nil))
}

func TestPortfolioItemValidate(t *testing.T) {
	ok := PortfolioItem{Symbol: "AAPL", Quantity: decimal.NewFromInt(1)}
	assert.NoError(t, ok.Validate())

	assert.Error(t, PortfolioItem{Quantity: decimal.NewFromInt(1)}.Validate())
	assert.Error(t, PortfolioItem{Symbol: "AAPL"}.Validate())
	assert.Error(t, PortfolioItem{Symbol: "AAPL", Quantity: decimal.NewFromInt(1), Sector: "Crypto"}.Validate())
}

func TestPreferenceValidate(t *testing.T) {
	valid := Preference{
		Sectors:            []string{"Energy", "Technology"},
		RiskAppetite:       "medium",
		StockProportion:    "below40",
		PreferredStockType: "growth",
		Period:             "long",
	}

	tests := []struct {
		name    string
		mutate  func(p *Preference)
		wantErr bool
	}{
		{"valid", func(p *Preference) {}, false},
		{"no sectors", func(p *Preference) { p.Sectors = nil }, true},
		{"missing period", func(p *Preference) { p.Period = "" }, true},
		{"four sectors", func(p *Preference) {
			p.Sectors = []string{"Energy", "Technology", "Utilities", "Real Estate"}
		}, true},
		{"duplicate sectors count once", func(p *Preference) {
			p.Sectors = []string{"Energy", "Energy", "Technology", "Utilities"}
		}, false},
		{"unknown sector", func(p *Preference) { p.Sectors = []string{"Crypto"} }, true},
		{"bad risk", func(p *Preference) { p.RiskAppetite = "extreme" }, true},
		{"bad proportion", func(p *Preference) { p.StockProportion = "half" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			p.Sectors = append([]string(nil), valid.Sectors...)
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.ErrorIs(t, Preference{}.Validate(), ErrIncompletePreference)
}
