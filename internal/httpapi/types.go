// Package httpapi provides the HTTP REST API behind the stockfeed client:
// paged chart bars, paged portfolio recommendations, portfolios,
// preferences and trending symbols.
package httpapi

import (
	"github.com/shopspring/decimal"

	"stockfeed/internal/domain"
	"stockfeed/internal/store"
)

// BarsPage is one page of chart bars, newest first.
type BarsPage struct {
	Symbol     string       `json:"symbol"`
	Interval   string       `json:"interval"`
	Page       int          `json:"page"`
	Bars       []domain.Bar `json:"bars"`
	IsLastPage bool         `json:"isLastPage"`
}

// PortfolioPage is one page of recommended portfolios.
type PortfolioPage struct {
	Criterion  string             `json:"criterion"`
	Page       int                `json:"page"`
	Portfolios []domain.Portfolio `json:"portfolios"`
	IsLastPage bool               `json:"isLastPage"`
}

// PortfolioView is a portfolio valued at the latest closes.
type PortfolioView struct {
	domain.Portfolio
	Holdings []domain.Holding `json:"holdings"`
	Total    decimal.Decimal  `json:"total"`
}

// SymbolsResponse lists symbols matching an autosuggest prefix.
type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
}

// TrendingResponse lists the most viewed symbols.
type TrendingResponse struct {
	Symbols []store.SymbolCount `json:"symbols"`
}

// PreferenceResponse wraps a user's stored preference.
type PreferenceResponse struct {
	User       string            `json:"user"`
	Preference domain.Preference `json:"preference"`
}
