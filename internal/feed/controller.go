package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// State is the snapshot handed to the render callback.
type State[S comparable, T any] struct {
	Context ContextKey
	Sub     S
	Items   []T
	// Index is the last page appended; zero until Started.
	Index     int
	Started   bool
	Exhausted bool
	// Loading is true while a page for Sub is in flight.
	Loading bool
	// Switching holds a sub key that was selected but is still loading.
	Switching *S
	Err       error
	FetchedAt time.Time
	// Epoch changes on every context change. Views reset scroll position
	// when it moves.
	Epoch uint64
}

// ResultMsg carries a fetch completion back to the controller that issued
// it.
type ResultMsg[S comparable, T any] struct {
	owner  *Controller[S, T]
	ticket ticket[S]
	Page   Page[T]
	Err    error
}

type ticket[S comparable] struct {
	ctx   ContextKey
	sub   S
	page  int
	epoch uint64
}

type options struct {
	name    string
	logger  *slog.Logger
	now     func() time.Time
	baseCtx context.Context
}

// Option configures a Controller.
type Option func(*options)

// WithName labels the controller in logs and metrics.
func WithName(name string) Option { return func(o *options) { o.name = name } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock overrides time.Now for cache timestamps.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithContext sets the parent context of every fetch. Close cancels it.
func WithContext(ctx context.Context) Option { return func(o *options) { o.baseCtx = ctx } }

// Controller orchestrates fetching, caching and pagination for one feed.
// It is not safe for concurrent use; call it from a single goroutine.
type Controller[S comparable, T any] struct {
	name       string
	fetcher    Fetcher[S, T]
	defaultSub S
	logger     *slog.Logger
	render     func(State[S, T])

	base   context.Context
	cancel context.CancelFunc

	cache   *Cache[S, T]
	trigger *Trigger
	cursors map[S]*Cursor

	ctx     ContextKey
	hasCtx  bool
	epoch   uint64
	active  S
	pending *S
	err     error
	closed  bool
}

// New builds a controller that fetches through f. defaultSub is the sub key
// loaded first whenever the context changes.
func New[S comparable, T any](f Fetcher[S, T], defaultSub S, opts ...Option) *Controller[S, T] {
	o := options{name: "feed", now: time.Now, baseCtx: context.Background()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	base, cancel := context.WithCancel(o.baseCtx)
	cache := NewCache[S, T]()
	cache.now = o.now
	return &Controller[S, T]{
		name:       o.name,
		fetcher:    f,
		defaultSub: defaultSub,
		logger:     o.logger.With("feed", o.name),
		base:       base,
		cancel:     cancel,
		cache:      cache,
		trigger:    NewTrigger(),
		cursors:    make(map[S]*Cursor),
		active:     defaultSub,
	}
}

// OnChange registers the render callback. It is invoked with a fresh
// snapshot after every visible change.
func (c *Controller[S, T]) OnChange(fn func(State[S, T])) { c.render = fn }

// Context returns the current context key and whether one is set.
func (c *Controller[S, T]) Context() (ContextKey, bool) { return c.ctx, c.hasCtx }

// Cache exposes the controller's cache for inspection.
func (c *Controller[S, T]) Cache() *Cache[S, T] { return c.cache }

// SetContext switches to key. A different key clears all state of the
// previous one and issues the first page of the default sub key. The same
// key is a no-op.
func (c *Controller[S, T]) SetContext(key ContextKey) tea.Cmd {
	if c.closed || (c.hasCtx && key == c.ctx) {
		return nil
	}
	if c.hasCtx {
		c.cache.Clear(c.ctx)
		c.logger.Debug("context replaced", "from", c.ctx, "to", key)
	}
	c.cursors = make(map[S]*Cursor)
	c.trigger.Reset()
	c.epoch++
	c.ctx = key
	c.hasCtx = true
	c.active = c.defaultSub
	c.pending = nil
	c.err = nil

	cmd := c.issue(c.defaultSub)
	c.notify()
	return cmd
}

// ToggleCriterion is SetContext for recommendation criteria. On a switch the
// trigger starts over with no sentinel, and the new Epoch tells the view to
// scroll back to the top. Toggling to the current key changes nothing.
func (c *Controller[S, T]) ToggleCriterion(key ContextKey) tea.Cmd {
	epoch := c.epoch
	cmd := c.SetContext(key)
	if c.epoch != epoch {
		c.trigger.Reset()
	}
	return cmd
}

// Refresh reloads the current context from its first page, as if it had
// just been set. Responses issued before the refresh are dropped.
func (c *Controller[S, T]) Refresh() tea.Cmd {
	if c.closed || !c.hasCtx {
		return nil
	}
	key := c.ctx
	c.cache.Clear(key)
	c.hasCtx = false
	return c.SetContext(key)
}

// SelectSubKey shows sub. A cached sub key is served at once without a
// fetch. Otherwise its first page is fetched and the view switches when it
// arrives, unless another sub key was selected in the meantime.
func (c *Controller[S, T]) SelectSubKey(sub S) tea.Cmd {
	if c.closed || !c.hasCtx {
		return nil
	}
	if c.cache.Has(c.ctx, sub) {
		c.active = sub
		c.pending = nil
		c.err = nil
		c.trigger.Reset()
		c.syncTrigger()
		c.notify()
		return nil
	}
	if sub == c.active && c.cursor(sub).InFlight() {
		c.pending = nil
		return nil
	}
	c.pending = &sub
	cmd := c.issue(sub)
	c.notify()
	return cmd
}

// OnLoadMoreSignal fetches the next page of the active sub key. It is a
// no-op while a page is in flight or the feed is exhausted.
func (c *Controller[S, T]) OnLoadMoreSignal() tea.Cmd {
	if c.closed || !c.hasCtx {
		return nil
	}
	cmd := c.issue(c.active)
	if cmd != nil {
		c.notify()
	}
	return cmd
}

// RegisterSentinel designates the last rendered item, re-arming the
// trigger when it changed.
func (c *Controller[S, T]) RegisterSentinel(id string) {
	c.trigger.Designate(id)
	c.syncTrigger()
}

// ObserveSentinel feeds the sentinel's visibility. On a rising edge it
// returns the load-more fetch.
func (c *Controller[S, T]) ObserveSentinel(visible bool) tea.Cmd {
	if c.closed || !c.trigger.Observe(visible) {
		return nil
	}
	return c.OnLoadMoreSignal()
}

// Close detaches the trigger and cancels outstanding fetches. Completions
// that still arrive are dropped.
func (c *Controller[S, T]) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.trigger.Detach()
	c.cancel()
}

// Snapshot returns the current state for the active sub key.
func (c *Controller[S, T]) Snapshot() State[S, T] {
	st := State[S, T]{
		Context: c.ctx,
		Sub:     c.active,
		Err:     c.err,
		Epoch:   c.epoch,
	}
	if e, ok := c.cache.Get(c.ctx, c.active); ok {
		st.Items = e.Payload
		st.FetchedAt = e.FetchedAt
	}
	if cur, ok := c.cursors[c.active]; ok {
		st.Index = cur.Index()
		st.Started = cur.Started()
		st.Exhausted = cur.Exhausted()
		st.Loading = cur.InFlight()
	}
	if c.pending != nil {
		p := *c.pending
		st.Switching = &p
	}
	return st
}

// Update applies a fetch completion. It reports whether msg belonged to
// this controller.
func (c *Controller[S, T]) Update(msg tea.Msg) bool {
	m, ok := msg.(ResultMsg[S, T])
	if !ok || m.owner != c {
		return false
	}
	c.apply(m)
	return true
}

func (c *Controller[S, T]) cursor(sub S) *Cursor {
	cur, ok := c.cursors[sub]
	if !ok {
		cur = &Cursor{}
		c.cursors[sub] = cur
	}
	return cur
}

func (c *Controller[S, T]) issue(sub S) tea.Cmd {
	cur := c.cursor(sub)
	page, ok := cur.Trigger()
	if !ok {
		return nil
	}
	c.syncTrigger()
	t := ticket[S]{ctx: c.ctx, sub: sub, page: page, epoch: c.epoch}
	c.logger.Debug("fetch issued", "context", t.ctx, "sub", fmt.Sprint(sub), "page", page)
	return c.fetchCmd(t)
}

func (c *Controller[S, T]) fetchCmd(t ticket[S]) tea.Cmd {
	f, base, owner, name := c.fetcher, c.base, c, c.name
	return func() tea.Msg {
		start := time.Now()
		page, err := f.Fetch(base, Request[S]{Context: t.ctx, Sub: t.sub, Page: t.page})
		fetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		page.Index = t.page
		return ResultMsg[S, T]{owner: owner, ticket: t, Page: page, Err: err}
	}
}

func (c *Controller[S, T]) apply(m ResultMsg[S, T]) {
	t := m.ticket
	subName := fmt.Sprint(t.sub)

	cur := c.cursors[t.sub]
	inFlight, claimed := 0, false
	if cur != nil {
		inFlight, claimed = cur.Pending()
	}
	if c.closed || !c.hasCtx || t.epoch != c.epoch || t.ctx != c.ctx || !claimed || inFlight != t.page {
		staleTotal.WithLabelValues(c.name).Inc()
		fetchesTotal.WithLabelValues(c.name, StaleResponse.String()).Inc()
		c.logger.Debug("stale response dropped", "context", t.ctx, "sub", subName, "page", t.page)
		return
	}

	visible := t.sub == c.active || (c.pending != nil && *c.pending == t.sub)

	if m.Err != nil {
		cur.Fail()
		fetchesTotal.WithLabelValues(c.name, NetworkFailure.String()).Inc()
		ferr := &Error{Kind: NetworkFailure, Context: t.ctx, Sub: subName, Page: t.page, Err: m.Err}
		c.logger.Warn("fetch failed", "context", t.ctx, "sub", subName, "page", t.page, "error", m.Err)
		c.settleFailure(t.sub, ferr, visible)
		return
	}

	if len(m.Page.Items) == 0 && !cur.Started() {
		cur.Fail()
		fetchesTotal.WithLabelValues(c.name, EmptyResult.String()).Inc()
		ferr := &Error{Kind: EmptyResult, Context: t.ctx, Sub: subName, Page: t.page}
		c.logger.Info("empty first page", "context", t.ctx, "sub", subName)
		c.settleFailure(t.sub, ferr, visible)
		return
	}

	fetchesTotal.WithLabelValues(c.name, "ok").Inc()
	if len(m.Page.Items) == 0 {
		cur.Exhaust()
	} else {
		prev := c.cache.payload(t.ctx, t.sub)
		merged := make([]T, 0, len(prev)+len(m.Page.Items))
		merged = append(merged, prev...)
		merged = append(merged, m.Page.Items...)
		c.cache.Set(t.ctx, t.sub, merged)
		cur.Complete(t.page, m.Page.IsLastPage)
	}
	c.logger.Debug("page appended", "context", t.ctx, "sub", subName, "page", t.page,
		"items", len(m.Page.Items), "exhausted", cur.Exhausted())

	if c.pending != nil && *c.pending == t.sub {
		c.active = t.sub
		c.pending = nil
		c.trigger.Reset()
	}
	if visible {
		c.err = nil
	}
	c.syncTrigger()
	if t.sub == c.active {
		c.notify()
	}
}

func (c *Controller[S, T]) settleFailure(sub S, err *Error, visible bool) {
	if c.pending != nil && *c.pending == sub {
		c.pending = nil
	}
	if sub == c.active {
		c.trigger.Rearm()
	}
	c.syncTrigger()
	if visible {
		c.err = err
		c.notify()
	}
}

func (c *Controller[S, T]) syncTrigger() {
	cur := c.cursor(c.active)
	c.trigger.SetEnabled(!cur.Exhausted() && !cur.InFlight())
}

func (c *Controller[S, T]) notify() {
	if c.render != nil {
		c.render(c.Snapshot())
	}
}
