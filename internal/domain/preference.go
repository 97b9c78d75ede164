package domain

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// MaxSectors is the most sectors a preference may name.
const MaxSectors = 3

// Sectors is the fixed list of selectable sectors.
var Sectors = []string{
	"Energy",
	"Basic Materials",
	"Industrials",
	"Utilities",
	"Healthcare",
	"Financial Services",
	"Consumer Cyclical",
	"Consumer Defensive",
	"Technology",
	"Communication Services",
	"Real Estate",
}

var (
	riskAppetites   = []string{"high", "medium", "low"}
	stockProportion = []string{"below20", "below40", "below60", "below80", "above80"}
	stockTypes      = []string{"growth", "dividends"}
	periods         = []string{"short", "mid", "long", "very-long"}
)

// ErrIncompletePreference is returned when a required preference field is
// missing.
var ErrIncompletePreference = errors.New("all preference fields are required")

// Preference is a user's investment profile, used by the preference
// recommendation criterion.
type Preference struct {
	Sectors            []string `json:"interested_sectors"`
	RiskAppetite       string   `json:"risk_appetite"`
	StockProportion    string   `json:"stock_proportion"`
	PreferredStockType string   `json:"preferred_stock_type"`
	Period             string   `json:"period"`
}

// Validate enforces that every field is set, that at most MaxSectors distinct
// known sectors are chosen, and that enum fields hold known values.
func (p Preference) Validate() error {
	if len(p.Sectors) == 0 || p.RiskAppetite == "" || p.StockProportion == "" ||
		p.PreferredStockType == "" || p.Period == "" {
		return ErrIncompletePreference
	}
	if n := len(lo.Uniq(p.Sectors)); n > MaxSectors {
		return fmt.Errorf("at most %d sectors may be chosen, got %d", MaxSectors, n)
	}
	for _, s := range p.Sectors {
		if !slices.Contains(Sectors, s) {
			return fmt.Errorf("unknown sector %q", s)
		}
	}
	checks := []struct {
		field, value string
		allowed      []string
	}{
		{"risk_appetite", p.RiskAppetite, riskAppetites},
		{"stock_proportion", p.StockProportion, stockProportion},
		{"preferred_stock_type", p.PreferredStockType, stockTypes},
		{"period", p.Period, periods},
	}
	for _, c := range checks {
		if !slices.Contains(c.allowed, c.value) {
			return fmt.Errorf("invalid %s %q", c.field, c.value)
		}
	}
	return nil
}
