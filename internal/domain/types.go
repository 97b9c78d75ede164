// Package domain defines the core types shared across stockfeed: bars,
// chart intervals, recommendation criteria, portfolios and preferences.
package domain

import (
	"fmt"
	"time"
)

// Bar is a single OHLCV bar for a symbol.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count"`
	VWAP       float64   `json:"vwap"`
}

// Market identifies the exchange group a symbol trades in.
type Market string

const (
	MarketUS Market = "us"
)

// ---------------------------------------------------------------------------
// Interval
// ---------------------------------------------------------------------------

// Interval is the chart granularity shown on the stock details tabs.
type Interval int

const (
	IntervalDay Interval = iota
	IntervalWeek
	IntervalMonth
)

// Intervals lists every interval in tab order.
var Intervals = []Interval{IntervalDay, IntervalWeek, IntervalMonth}

func (i Interval) String() string {
	switch i {
	case IntervalDay:
		return "day"
	case IntervalWeek:
		return "week"
	case IntervalMonth:
		return "month"
	}
	return fmt.Sprintf("Interval(%d)", int(i))
}

// ParseInterval converts the wire name of an interval. Unknown names are an
// error rather than a silent default.
func ParseInterval(s string) (Interval, error) {
	switch s {
	case "day":
		return IntervalDay, nil
	case "week":
		return IntervalWeek, nil
	case "month":
		return IntervalMonth, nil
	}
	return 0, fmt.Errorf("unknown interval %q", s)
}

// Bucket returns the start of the bucket t falls into: the day itself, the
// Monday of its ISO week, or the first of its month (all UTC).
func (i Interval) Bucket(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch i {
	case IntervalDay:
		return day
	case IntervalWeek:
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case IntervalMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	panic(fmt.Sprintf("unhandled interval %d", int(i)))
}

// Aggregate rolls ascending daily bars up to the interval. The returned bars
// are ascending and stamped with their bucket start.
func (i Interval) Aggregate(daily []Bar) []Bar {
	if i == IntervalDay {
		out := make([]Bar, len(daily))
		copy(out, daily)
		return out
	}

	var out []Bar
	var notional float64
	for _, b := range daily {
		key := i.Bucket(b.Timestamp)
		n := len(out)
		if n == 0 || !out[n-1].Timestamp.Equal(key) {
			if n > 0 && out[n-1].Volume > 0 {
				out[n-1].VWAP = notional / float64(out[n-1].Volume)
			}
			notional = 0
			out = append(out, Bar{
				Symbol:    b.Symbol,
				Timestamp: key,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
			})
			n++
		}
		cur := &out[n-1]
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
		cur.TradeCount += b.TradeCount
		notional += b.VWAP * float64(b.Volume)
	}
	if n := len(out); n > 0 && out[n-1].Volume > 0 {
		out[n-1].VWAP = notional / float64(out[n-1].Volume)
	}
	return out
}

// ---------------------------------------------------------------------------
// Criterion
// ---------------------------------------------------------------------------

// Criterion selects how recommended portfolios are chosen.
type Criterion string

const (
	CriterionPortfolio  Criterion = "portfolio"
	CriterionPreference Criterion = "preference"
	CriterionRandom     Criterion = "random"
)

// ParseCriterion validates a criterion name.
func ParseCriterion(s string) (Criterion, error) {
	switch c := Criterion(s); c {
	case CriterionPortfolio, CriterionPreference, CriterionRandom:
		return c, nil
	}
	return "", fmt.Errorf("unknown criterion %q", s)
}

// Next is the criterion the toggle switches to. Random toggles back to
// portfolio.
func (c Criterion) Next() Criterion {
	if c == CriterionPortfolio {
		return CriterionPreference
	}
	return CriterionPortfolio
}

// Paginated reports whether the criterion supports infinite scroll. Random
// picks are a single page.
func (c Criterion) Paginated() bool {
	return c != CriterionRandom
}
