package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"stockfeed/internal/dashboard"
	"stockfeed/internal/domain"
	"stockfeed/pkg/stockfeed"
)

// cardHeight is the number of lines one recommended portfolio takes.
const cardHeight = 3

// headerHeight is the number of lines above the viewport.
const headerHeight = 2

// ownHoldings is how many of the user's holdings the header lists.
const ownHoldings = 4

func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return m.headerBar() + "\n" + m.viewport.View() + "\n" + m.footerBar()
}

func (m *Model) headerBar() string {
	if m.screen == screenRecs {
		text := fmt.Sprintf(" Recommended portfolios    by: %s    user: %s ", m.crit, lo.Ternary(m.user == "", "-", m.user))
		return recsBarStyle.Render(padOrTrunc(text, m.width)) + "\n" + m.portfolioLine()
	}

	st := m.detailState
	sym := string(st.Context)
	if sym == "" {
		sym = "no symbol"
	}
	var tabs []string
	for i, iv := range domain.Intervals {
		label := fmt.Sprintf(" %d %s ", i+1, iv)
		switch {
		case iv == st.Sub:
			tabs = append(tabs, tabActiveStyle.Render(label))
		case st.Switching != nil && *st.Switching == iv:
			tabs = append(tabs, tabPendingStyle.Render(label))
		default:
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	left := headerStyle.Render(" " + sym + " ")
	used := lipgloss.Width(left) + lipgloss.Width(strings.Join(tabs, ""))
	rest := headerStyle.Render(strings.Repeat(" ", max(m.width-used, 0)))
	return left + strings.Join(tabs, "") + rest + "\n" + m.trendingLine()
}

func (m *Model) trendingLine() string {
	if len(m.trending) == 0 {
		return dimStyle.Render(padOrTrunc(" trending: -", m.width))
	}
	parts := lo.Map(m.trending, func(s stockfeed.SymbolCount, _ int) string {
		return fmt.Sprintf("%s(%d)", s.Symbol, s.Count)
	})
	return dimStyle.Render(padOrTrunc(" trending: "+strings.Join(parts, " ")+"   (t to open)", m.width))
}

// portfolioLine summarises the user's own portfolio: its value at the latest
// closes and the share of its largest holdings.
func (m *Model) portfolioLine() string {
	switch {
	case m.user == "":
		return dimStyle.Render(padOrTrunc(" my portfolio: no user set", m.width))
	case m.portfolio == nil || len(m.portfolio.Items) == 0:
		return dimStyle.Render(padOrTrunc(" my portfolio: no holdings", m.width))
	}
	p := m.portfolio
	parts := lo.Map(lo.Slice(p.Holdings, 0, ownHoldings), func(h domain.Holding, _ int) string {
		return h.Symbol + " " + dashboard.FormatShare(h.Proportion)
	})
	if n := len(p.Holdings) - ownHoldings; n > 0 {
		parts = append(parts, fmt.Sprintf("+%d more", n))
	}
	text := fmt.Sprintf(" my portfolio: %s    %s", dashboard.FormatMoney(p.Total), strings.Join(parts, "  "))
	return ownerStyle.Render(padOrTrunc(text, m.width))
}

func (m *Model) footerBar() string {
	if m.searching {
		hint := "   enter open  esc cancel"
		if n := len(m.search.MatchedSuggestions()); n > 0 {
			hint = fmt.Sprintf("   %d matches  tab complete  ↑↓ cycle", n) + hint
		}
		return m.search.View() + dimStyle.Render(padOrTrunc(hint, max(m.width-lipgloss.Width(m.search.View()), 0)))
	}
	if m.toast != "" {
		style := footerStyle
		if m.toastErr {
			style = errorBarStyle
		}
		return style.Render(padOrTrunc(" "+m.toast, m.width))
	}

	var status, keys string
	switch m.screen {
	case screenDetails:
		st := m.detailState
		status = feedStatus(st.Started, st.Loading || st.Switching != nil, st.Exhausted, st.Index, len(st.Items), "bars", st.FetchedAt)
		keys = "1-3/←→ interval  n more  t trending  / symbol  tab portfolios  q quit"
	case screenRecs:
		st := m.recState
		status = feedStatus(st.Started, st.Loading, st.Exhausted, st.Index, len(st.Items), "portfolios", st.FetchedAt)
		keys = "↑↓ select  enter open  c criterion  r random  p portfolio  / symbol  tab chart  q quit"
	}
	if m.loading() {
		status = m.spinner.View() + status
	}
	right := fmt.Sprintf("%s  %3.f%% ", status, m.viewport.ScrollPercent()*100)
	left := " " + keys
	gap := m.width - len([]rune(left)) - len([]rune(right))
	if gap < 1 {
		return footerStyle.Render(padOrTrunc(right, m.width))
	}
	return footerStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func (m *Model) loading() bool {
	if m.screen == screenDetails {
		return m.detailState.Loading || m.detailState.Switching != nil
	}
	return m.recState.Loading
}

func feedStatus(started, loading, exhausted bool, index, n int, noun string, at time.Time) string {
	switch {
	case !started && loading:
		return "loading"
	case !started:
		return "-"
	}
	s := fmt.Sprintf("%s %s  page %d", dashboard.FormatInt(int64(n)), noun, index+1)
	if exhausted {
		s += "  end"
	}
	if !at.IsZero() {
		s += "  " + at.Format(time.TimeOnly)
	}
	return s
}

// renderContent renders the scrollable body of the current screen.
func (m *Model) renderContent() string {
	if m.screen == screenRecs {
		return m.renderRecs()
	}
	return m.renderDetails()
}

func (m *Model) renderDetails() string {
	st := m.detailState
	if st.Context == "" {
		return dimStyle.Render("\n  Press / to open a symbol, or t for the trending list.")
	}
	if len(st.Items) == 0 {
		if st.Loading {
			return dimStyle.Render("\n  Loading " + string(st.Context) + "...")
		}
		return dimStyle.Render("\n  No bars.")
	}

	var b strings.Builder
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-10s %10s %10s %10s %10s %8s %9s", "DATE", "OPEN", "HIGH", "LOW", "CLOSE", "CHG", "VOLUME")))
	for _, bar := range st.Items {
		b.WriteByte('\n')
		b.WriteString("  ")
		b.WriteString(dimStyle.Render(padOrTrunc(bar.Timestamp.UTC().Format(time.DateOnly), 10)))
		b.WriteByte(' ')
		b.WriteString(priceStyle.Render(padLeft(dashboard.FormatPrice(bar.Open), 10)))
		b.WriteByte(' ')
		b.WriteString(priceStyle.Render(padLeft(dashboard.FormatPrice(bar.High), 10)))
		b.WriteByte(' ')
		b.WriteString(priceStyle.Render(padLeft(dashboard.FormatPrice(bar.Low), 10)))
		b.WriteByte(' ')
		b.WriteString(symbolStyle.Render(padLeft(dashboard.FormatPrice(bar.Close), 10)))
		b.WriteByte(' ')
		chg := padLeft(dashboard.FormatChange(bar.Open, bar.Close), 8)
		switch {
		case bar.Close > bar.Open:
			b.WriteString(gainStyle.Render(chg))
		case bar.Close < bar.Open:
			b.WriteString(lossStyle.Render(chg))
		default:
			b.WriteString(dimStyle.Render(chg))
		}
		b.WriteByte(' ')
		b.WriteString(volumeStyle.Render(padLeft(dashboard.FormatVolume(bar.Volume), 9)))
	}
	if st.Exhausted {
		b.WriteString("\n" + dimStyle.Render("  -- start of history --"))
	} else if st.Loading {
		b.WriteString("\n" + dimStyle.Render("  loading more..."))
	}
	return b.String()
}

func (m *Model) renderRecs() string {
	st := m.recState
	if len(st.Items) == 0 {
		if st.Loading {
			return dimStyle.Render("\n  Finding portfolios...")
		}
		return dimStyle.Render("\n  No recommendations.")
	}

	width := max(m.width-4, 20)
	var lines []string
	for i, p := range st.Items {
		hl := i == m.selected
		marker := "  "
		if hl {
			marker = "> "
		}
		title := hlStyle(ownerStyle, hl).Render(marker+p.Owner) +
			hlStyle(dimStyle, hl).Render(fmt.Sprintf("  %d holdings  %s views", len(p.Items), dashboard.FormatInt(p.Hits)))
		sectors := strings.Join(p.Sectors(), ", ")
		if sectors == "" {
			sectors = "-"
		}
		holdings := lo.Map(lo.Slice(p.Proportions(map[string]decimal.Decimal{}), 0, 5), func(h domain.Holding, _ int) string {
			return h.Symbol + " " + dashboard.FormatShare(h.Proportion)
		})
		lines = append(lines,
			title,
			"    "+padOrTrunc("sectors: "+sectors, width),
			"    "+symbolStyle.Render(padOrTrunc(strings.Join(holdings, "  "), width)),
		)
	}
	if st.Exhausted {
		lines = append(lines, dimStyle.Render("  -- no more portfolios --"))
	} else if st.Loading {
		lines = append(lines, dimStyle.Render("  loading more..."))
	}
	return strings.Join(lines, "\n")
}
