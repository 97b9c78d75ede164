package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles.
var (
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	recsBarStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	footerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	errorBarStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1"))
	tabStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tabActiveStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3"))
	tabPendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Underline(true)
	symbolStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	ownerStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")) // orange
	gainStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	colHeaderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	priceStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	volumeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	highlightBG     = lipgloss.Color("236") // dark grey background
)

// hlStyle returns a copy of s with the highlight background applied when hl is true.
func hlStyle(s lipgloss.Style, hl bool) lipgloss.Style {
	if hl {
		return s.Background(highlightBG)
	}
	return s
}

// padOrTrunc pads s with spaces to width, or truncates if longer.
func padOrTrunc(s string, width int) string {
	r := []rune(s)
	n := len(r)
	if n >= width {
		return string(r[:max(width, 0)])
	}
	return s + strings.Repeat(" ", width-n)
}

// padLeft right-aligns s in width.
func padLeft(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return strings.Repeat(" ", width-n) + s
}
