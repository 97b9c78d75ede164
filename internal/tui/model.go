// Package tui is the stockfeed terminal client. It has two screens, each
// backed by a feed controller: stock details (daily, weekly and monthly
// bars for one symbol) and recommended portfolios.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"stockfeed/internal/domain"
	"stockfeed/internal/feed"
	"stockfeed/internal/source"
	"stockfeed/pkg/stockfeed"
)

// API is the part of the SDK the client calls outside of the feeds.
type API interface {
	Trending(ctx context.Context, limit int) ([]stockfeed.SymbolCount, error)
	RecordHit(ctx context.Context, owner string) error
	Portfolio(ctx context.Context, user string) (stockfeed.PortfolioView, error)
	SearchSymbols(ctx context.Context, prefix string) ([]string, error)
}

// Options wires a Model.
type Options struct {
	Bars feed.Fetcher[domain.Interval, domain.Bar]
	Recs feed.Fetcher[feed.Single, domain.Portfolio]
	API  API
	User string
	// Symbol is opened on start when set.
	Symbol    string
	Criterion domain.Criterion
	// TrendingRefresh is the poll interval of the trending strip.
	TrendingRefresh time.Duration
	// Preferences, when set, refreshes preference recommendations as the
	// user's preferences change.
	Preferences <-chan stockfeed.PreferenceEvent
	Logger      *slog.Logger
}

type screen int

const (
	screenDetails screen = iota
	screenRecs
)

const (
	trendingLimit = 8
	toastTTL      = 5 * time.Second
	apiTimeout    = 5 * time.Second
)

// Messages.
type trendingTickMsg time.Time

type trendingMsg struct {
	symbols []stockfeed.SymbolCount
	err     error
}

type portfolioMsg struct {
	view stockfeed.PortfolioView
	err  error
}

type suggestMsg struct {
	prefix  string
	symbols []string
	err     error
}

type hitMsg struct {
	owner string
	err   error
}

type prefEventMsg stockfeed.PreferenceEvent
type prefClosedMsg struct{}
type toastExpiredMsg struct{ id int }

// Model is the bubbletea model of the client. It is used through a pointer
// so that the feed render callbacks can reach it.
type Model struct {
	details *feed.Controller[domain.Interval, domain.Bar]
	recs    *feed.Controller[feed.Single, domain.Portfolio]
	api     API
	user    string
	crit    domain.Criterion
	logger  *slog.Logger

	initialSymbol   string
	trendingRefresh time.Duration
	trending        []stockfeed.SymbolCount
	trendingIdx     int
	prefs           <-chan stockfeed.PreferenceEvent
	portfolio       *stockfeed.PortfolioView // the user's own, nil until loaded

	screen    screen
	selected  int // index into the recommended portfolios
	search    textinput.Model
	searching bool
	spinner   spinner.Model

	detailState feed.State[domain.Interval, domain.Bar]
	recState    feed.State[feed.Single, domain.Portfolio]
	shownErr    [2]error
	toast       string
	toastErr    bool
	toastID     int
	toastCmd    tea.Cmd

	epochs        [2]uint64
	viewport      viewport.Model
	ready         bool
	width, height int
}

// New builds the client model. Fetches run under ctx.
func New(ctx context.Context, opts Options) *Model {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	crit := opts.Criterion
	if crit == "" {
		crit = domain.CriterionPortfolio
	}

	search := textinput.New()
	search.Placeholder = "symbol"
	search.CharLimit = 12
	search.Prompt = " / "
	search.ShowSuggestions = true

	m := &Model{
		details: feed.New(opts.Bars, domain.IntervalDay,
			feed.WithName("bars"), feed.WithLogger(logger), feed.WithContext(ctx)),
		recs: feed.New(opts.Recs, feed.Single{},
			feed.WithName("recommendations"), feed.WithLogger(logger), feed.WithContext(ctx)),
		api:             opts.API,
		user:            opts.User,
		crit:            crit,
		logger:          logger,
		initialSymbol:   strings.ToUpper(strings.TrimSpace(opts.Symbol)),
		trendingRefresh: opts.TrendingRefresh,
		prefs:           opts.Preferences,
		search:          search,
		spinner:         spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	if m.initialSymbol == "" {
		m.screen = screenRecs
	}
	m.details.OnChange(func(st feed.State[domain.Interval, domain.Bar]) {
		m.detailState = st
		m.noteError(screenDetails, st.Err)
	})
	m.recs.OnChange(func(st feed.State[feed.Single, domain.Portfolio]) {
		m.recState = st
		m.noteError(screenRecs, st.Err)
	})
	return m
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.spinner.Tick,
		m.fetchTrending(),
		m.fetchPortfolio(),
		m.recs.ToggleCriterion(source.RecommendationKey(m.crit, m.user)),
	}
	if m.initialSymbol != "" {
		cmds = append(cmds, m.details.SetContext(feed.ContextKey(m.initialSymbol)))
	}
	if m.prefs != nil {
		cmds = append(cmds, waitPreference(m.prefs))
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		cmd, handled, quit := m.handleKey(msg)
		if quit {
			m.details.Close()
			m.recs.Close()
			return m, tea.Quit
		}
		cmds = append(cmds, cmd)
		if handled {
			return m, tea.Batch(append(cmds, m.sync())...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerH := headerHeight
		footerH := 1
		vpHeight := m.height - headerH - footerH
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		return m, m.sync()

	case trendingTickMsg:
		return m, m.fetchTrending()

	case trendingMsg:
		if msg.err != nil {
			m.logger.Warn("loading trending symbols", "error", msg.err)
			cmds = append(cmds, m.showToast("trending: "+msg.err.Error(), true))
		} else {
			m.trending = msg.symbols
		}
		if m.trendingRefresh > 0 {
			cmds = append(cmds, tea.Tick(m.trendingRefresh, func(t time.Time) tea.Msg {
				return trendingTickMsg(t)
			}))
		}
		return m, tea.Batch(append(cmds, m.sync())...)

	case portfolioMsg:
		switch {
		case msg.err == nil:
			view := msg.view
			m.portfolio = &view
		case stockfeed.IsNotFound(msg.err):
			m.portfolio = nil
		default:
			m.logger.Warn("loading portfolio", "user", m.user, "error", msg.err)
			cmds = append(cmds, m.showToast("portfolio: "+msg.err.Error(), true))
		}
		return m, tea.Batch(append(cmds, m.sync())...)

	case suggestMsg:
		if msg.err != nil {
			m.logger.Debug("symbol suggestions", "prefix", msg.prefix, "error", msg.err)
			return m, nil
		}
		if m.searching {
			m.search.SetSuggestions(msg.symbols)
		}
		return m, nil

	case hitMsg:
		if msg.err != nil {
			m.logger.Warn("recording portfolio hit", "owner", msg.owner, "error", msg.err)
		}
		return m, nil

	case prefEventMsg:
		if m.prefs != nil {
			cmds = append(cmds, waitPreference(m.prefs))
		}
		cmds = append(cmds, m.handlePreference(stockfeed.PreferenceEvent(msg)))
		return m, tea.Batch(append(cmds, m.sync())...)

	case prefClosedMsg:
		m.logger.Info("preference stream closed")
		return m, nil

	case toastExpiredMsg:
		if msg.id == m.toastID {
			m.toast = ""
			m.toastErr = false
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	default:
		if m.details.Update(msg) || m.recs.Update(msg) {
			return m, m.sync()
		}
	}

	if m.ready && !m.searching {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	cmds = append(cmds, m.sync())
	return m, tea.Batch(cmds...)
}

// handleKey reports whether the key was consumed, and whether to quit.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool, bool) {
	if m.searching {
		switch msg.String() {
		case "ctrl+c":
			return nil, true, true
		case "esc":
			m.searching = false
			m.search.Blur()
			m.search.SetValue("")
			m.search.SetSuggestions(nil)
			return nil, true, false
		case "tab":
			if sug := m.search.CurrentSuggestion(); sug != "" {
				m.search.SetValue(sug)
				m.search.CursorEnd()
			}
			return nil, true, false
		case "enter":
			m.searching = false
			m.search.Blur()
			sym := strings.ToUpper(strings.TrimSpace(m.search.Value()))
			m.search.SetValue("")
			m.search.SetSuggestions(nil)
			if sym == "" {
				return nil, true, false
			}
			return m.openSymbol(sym), true, false
		}
		before := m.search.Value()
		var cmd tea.Cmd
		m.search, cmd = m.search.Update(msg)
		if v := m.search.Value(); v != before {
			cmd = tea.Batch(cmd, m.suggest(v))
		}
		return cmd, true, false
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return nil, true, true
	case "tab":
		if m.screen == screenDetails {
			m.screen = screenRecs
		} else {
			m.screen = screenDetails
		}
		return nil, true, false
	case "/":
		m.searching = true
		return m.search.Focus(), true, false
	case "R":
		return m.retry(), true, false
	}

	if m.screen == screenDetails {
		switch msg.String() {
		case "1", "2", "3":
			iv := domain.Intervals[int(msg.String()[0]-'1')]
			return m.details.SelectSubKey(iv), true, false
		case "left", "right":
			return m.details.SelectSubKey(m.stepInterval(msg.String() == "right")), true, false
		case "n":
			return m.details.OnLoadMoreSignal(), true, false
		case "t":
			if len(m.trending) == 0 {
				return nil, true, false
			}
			sym := m.trending[m.trendingIdx%len(m.trending)].Symbol
			m.trendingIdx++
			return m.openSymbol(sym), true, false
		}
		return nil, false, false
	}

	switch msg.String() {
	case "c":
		m.crit = m.crit.Next()
		m.selected = 0
		return m.recs.ToggleCriterion(source.RecommendationKey(m.crit, m.user)), true, false
	case "r":
		m.selected = 0
		if m.crit == domain.CriterionRandom {
			return m.recs.Refresh(), true, false
		}
		m.crit = domain.CriterionRandom
		return m.recs.ToggleCriterion(source.RecommendationKey(m.crit, m.user)), true, false
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
		m.ensureVisible()
		return nil, true, false
	case "down", "j":
		if m.selected < len(m.recState.Items)-1 {
			m.selected++
		}
		m.ensureVisible()
		return nil, true, false
	case "enter":
		return m.openPortfolio(), true, false
	case "p":
		return m.fetchPortfolio(), true, false
	}
	return nil, false, false
}

func (m *Model) stepInterval(forward bool) domain.Interval {
	cur := m.details.Snapshot().Sub
	if sw := m.details.Snapshot().Switching; sw != nil {
		cur = *sw
	}
	n := len(domain.Intervals)
	i := int(cur)
	if forward {
		i = (i + 1) % n
	} else {
		i = (i + n - 1) % n
	}
	return domain.Intervals[i]
}

func (m *Model) openSymbol(sym string) tea.Cmd {
	m.screen = screenDetails
	return m.details.SetContext(feed.ContextKey(sym))
}

// openPortfolio records a hit on the selected portfolio and opens its
// largest holding.
func (m *Model) openPortfolio() tea.Cmd {
	items := m.recState.Items
	if m.selected >= len(items) {
		return nil
	}
	p := items[m.selected]
	var cmds []tea.Cmd
	if m.api != nil && p.Owner != m.user {
		api, owner := m.api, p.Owner
		cmds = append(cmds, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
			defer cancel()
			return hitMsg{owner: owner, err: api.RecordHit(ctx, owner)}
		})
	}
	if hs := p.Proportions(map[string]decimal.Decimal{}); len(hs) > 0 {
		cmds = append(cmds, m.openSymbol(hs[0].Symbol))
	}
	return tea.Batch(cmds...)
}

// retry re-issues the failed fetch of the current screen.
func (m *Model) retry() tea.Cmd {
	if m.screen == screenDetails {
		if m.detailState.Started {
			return m.details.OnLoadMoreSignal()
		}
		return m.details.Refresh()
	}
	if m.recState.Started {
		return m.recs.OnLoadMoreSignal()
	}
	return m.recs.Refresh()
}

func (m *Model) handlePreference(ev stockfeed.PreferenceEvent) tea.Cmd {
	if ev.User != m.user || m.crit != domain.CriterionPreference {
		return nil
	}
	if ev.Type != "set" && ev.Type != "delete" {
		return nil
	}
	m.logger.Info("preferences changed, refreshing recommendations", "user", ev.User, "event", ev.Type)
	m.selected = 0
	return tea.Batch(m.recs.Refresh(), m.showToast("preferences updated", false))
}

func waitPreference(ch <-chan stockfeed.PreferenceEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return prefClosedMsg{}
		}
		return prefEventMsg(ev)
	}
}

// fetchPortfolio loads the user's own portfolio for the recommendations
// header.
func (m *Model) fetchPortfolio() tea.Cmd {
	if m.api == nil || m.user == "" {
		return nil
	}
	api, user := m.api, m.user
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
		defer cancel()
		view, err := api.Portfolio(ctx, user)
		return portfolioMsg{view: view, err: err}
	}
}

// suggest looks up symbols starting with prefix for the search box.
func (m *Model) suggest(prefix string) tea.Cmd {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if m.api == nil || prefix == "" {
		return nil
	}
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
		defer cancel()
		syms, err := api.SearchSymbols(ctx, prefix)
		return suggestMsg{prefix: prefix, symbols: syms, err: err}
	}
}

func (m *Model) fetchTrending() tea.Cmd {
	if m.api == nil {
		return nil
	}
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
		defer cancel()
		syms, err := api.Trending(ctx, trendingLimit)
		return trendingMsg{symbols: syms, err: err}
	}
}

// noteError queues a toast for a feed error that was not shown yet.
func (m *Model) noteError(s screen, err error) {
	if err == nil || err == m.shownErr[s] {
		m.shownErr[s] = err
		return
	}
	m.shownErr[s] = err
	m.toastCmd = m.showToast(describe(err), true)
}

func (m *Model) showToast(text string, isErr bool) tea.Cmd {
	m.toastID++
	m.toast = text
	m.toastErr = isErr
	id := m.toastID
	return tea.Tick(toastTTL, func(time.Time) tea.Msg { return toastExpiredMsg{id: id} })
}

func describe(err error) string {
	var fe *feed.Error
	if !errors.As(err, &fe) {
		return err.Error()
	}
	switch {
	case errors.Is(err, feed.ErrEmptyResult):
		return fmt.Sprintf("nothing to show for %s (R to retry)", fe.Context)
	case fe.Page > 0:
		return fmt.Sprintf("loading more failed: %v (R to retry)", fe.Err)
	default:
		return fmt.Sprintf("loading %s failed: %v (R to retry)", fe.Context, fe.Err)
	}
}

// sync redraws the viewport, resets the scroll position when the feed moved
// to a new context, and feeds the sentinel's visibility to the controller of
// the visible screen.
func (m *Model) sync() tea.Cmd {
	m.detailState = m.details.Snapshot()
	m.recState = m.recs.Snapshot()
	if m.selected >= len(m.recState.Items) {
		m.selected = max(len(m.recState.Items)-1, 0)
	}

	cmds := []tea.Cmd{m.toastCmd}
	m.toastCmd = nil
	if !m.ready {
		return tea.Batch(cmds...)
	}

	m.viewport.SetContent(m.renderContent())
	if epoch := m.currentEpoch(); epoch != m.epochs[m.screen] {
		m.epochs[m.screen] = epoch
		m.viewport.GotoTop()
	}

	visible := m.viewport.AtBottom()
	switch m.screen {
	case screenDetails:
		if n := len(m.detailState.Items); n > 0 {
			last := m.detailState.Items[n-1]
			m.details.RegisterSentinel(fmt.Sprintf("%s/%s/%s", m.detailState.Context, m.detailState.Sub, last.Timestamp.Format(time.DateOnly)))
		}
		cmds = append(cmds, m.details.ObserveSentinel(visible))
	case screenRecs:
		if n := len(m.recState.Items); n > 0 {
			m.recs.RegisterSentinel(fmt.Sprintf("%s/%d/%s", m.recState.Context, n, m.recState.Items[n-1].Owner))
		}
		cmds = append(cmds, m.recs.ObserveSentinel(visible))
	}
	m.detailState = m.details.Snapshot()
	m.recState = m.recs.Snapshot()
	return tea.Batch(cmds...)
}

func (m *Model) currentEpoch() uint64 {
	if m.screen == screenDetails {
		return m.detailState.Epoch
	}
	return m.recState.Epoch
}

// ensureVisible scrolls the viewport so the selected portfolio is on
// screen.
func (m *Model) ensureVisible() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderContent())
	line := m.selected * cardHeight
	if line < m.viewport.YOffset {
		m.viewport.SetYOffset(line)
	} else if line+cardHeight > m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(line + cardHeight - m.viewport.Height)
	}
}
