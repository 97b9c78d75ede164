package domain

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// PortfolioItem is one holding in a user's portfolio.
type PortfolioItem struct {
	ID       int64           `json:"id"`
	Symbol   string          `json:"symbol"`
	Sector   string          `json:"sector"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Portfolio is the set of holdings owned by one user. Hits counts how often
// other users opened it from their recommendations.
type Portfolio struct {
	Owner string          `json:"owner"`
	Items []PortfolioItem `json:"items"`
	Hits  int64           `json:"hits"`
}

// Holding is a portfolio item valued at a market price.
type Holding struct {
	Symbol     string          `json:"symbol"`
	Value      decimal.Decimal `json:"value"`
	Proportion decimal.Decimal `json:"proportion"`
}

// Value prices each item at prices[symbol], falling back to the item's
// average price when no market price is known.
func (p Portfolio) Value(prices map[string]decimal.Decimal) []Holding {
	out := make([]Holding, 0, len(p.Items))
	for _, it := range p.Items {
		price, ok := prices[it.Symbol]
		if !ok {
			price = it.AvgPrice
		}
		out = append(out, Holding{Symbol: it.Symbol, Value: it.Quantity.Mul(price)})
	}
	return out
}

// Total sums the market value of all holdings.
func (p Portfolio) Total(prices map[string]decimal.Decimal) decimal.Decimal {
	return lo.Reduce(p.Value(prices), func(acc decimal.Decimal, h Holding, _ int) decimal.Decimal {
		return acc.Add(h.Value)
	}, decimal.Zero)
}

// Proportions returns holdings with their share of the total value, largest
// first. Shares are rounded to 4 places. An empty or zero-valued portfolio
// yields zero proportions.
func (p Portfolio) Proportions(prices map[string]decimal.Decimal) []Holding {
	holdings := p.Value(prices)
	total := p.Total(prices)
	for i := range holdings {
		if total.IsZero() {
			holdings[i].Proportion = decimal.Zero
			continue
		}
		holdings[i].Proportion = holdings[i].Value.DivRound(total, 4)
	}
	sort.SliceStable(holdings, func(i, j int) bool {
		return holdings[i].Value.GreaterThan(holdings[j].Value)
	})
	return holdings
}

// Sectors returns the distinct sectors held, sorted.
func (p Portfolio) Sectors() []string {
	s := lo.Uniq(lo.FilterMap(p.Items, func(it PortfolioItem, _ int) (string, bool) {
		return it.Sector, it.Sector != ""
	}))
	slices.Sort(s)
	return s
}

// Validate checks a single item before it is stored.
func (it PortfolioItem) Validate() error {
	if it.Symbol == "" {
		return errors.New("symbol is required")
	}
	if !it.Quantity.IsPositive() {
		return fmt.Errorf("quantity for %s must be positive", it.Symbol)
	}
	if it.AvgPrice.IsNegative() {
		return fmt.Errorf("average price for %s must not be negative", it.Symbol)
	}
	if it.Sector != "" && !slices.Contains(Sectors, it.Sector) {
		return fmt.Errorf("unknown sector %q", it.Sector)
	}
	return nil
}
