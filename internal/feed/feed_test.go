package feed

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorTransitions(t *testing.T) {
	var c Cursor

	page, ok := c.Trigger()
	require.True(t, ok)
	assert.Equal(t, 0, page)
	_, ok = c.Trigger()
	assert.False(t, ok, "second trigger while in flight")

	c.Complete(0, false)
	assert.Equal(t, 0, c.Index())
	assert.True(t, c.Started())

	page, ok = c.Trigger()
	require.True(t, ok)
	assert.Equal(t, 1, page)
	c.Fail()
	assert.Equal(t, 0, c.Index())
	assert.False(t, c.InFlight())

	page, _ = c.Trigger()
	assert.Equal(t, 1, page)
	c.Complete(1, true)
	assert.True(t, c.Exhausted())
	_, ok = c.Trigger()
	assert.False(t, ok, "exhausted is terminal")

	c.Reset()
	assert.Equal(t, Cursor{}, c)
	page, ok = c.Trigger()
	assert.True(t, ok)
	assert.Equal(t, 0, page)
}

func TestTriggerEdges(t *testing.T) {
	tr := NewTrigger()
	assert.False(t, tr.Observe(true), "no sentinel")

	tr.Designate("a")
	assert.True(t, tr.Observe(true))
	assert.False(t, tr.Observe(true), "level, not edge")
	assert.False(t, tr.Observe(false))
	assert.False(t, tr.Observe(true), "disarmed after firing")

	tr.Rearm()
	assert.False(t, tr.Observe(true), "still visible after rearm")
	assert.False(t, tr.Observe(false))
	assert.True(t, tr.Observe(true))

	tr.Designate("b")
	tr.SetEnabled(false)
	assert.False(t, tr.Observe(true))
	tr.SetEnabled(true)
	assert.False(t, tr.Observe(true), "became visible while disabled")
	tr.Observe(false)
	assert.True(t, tr.Observe(true))

	tr.Designate("c")
	tr.Detach()
	assert.False(t, tr.Enabled())
	tr.Designate("d")
	assert.False(t, tr.Observe(true))
	assert.Empty(t, tr.Sentinel())
}

func TestCacheOverwritesAndClears(t *testing.T) {
	c := NewCache[string, int]()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return now }

	payload := []int{1, 2}
	first := c.Set("AAPL", "day", payload)
	payload[0] = 99
	got, ok := c.Get("AAPL", "day")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, got.Payload, "Set copies its input")
	assert.Equal(t, now, got.FetchedAt)

	second := c.Set("AAPL", "day", []int{3})
	got, _ = c.Get("AAPL", "day")
	assert.Equal(t, []int{3}, got.Payload, "no merge on overwrite")
	got.Payload[0] = 7
	got, _ = c.Get("AAPL", "day")
	assert.Equal(t, []int{3}, got.Payload, "Get hands out a copy")
	assert.Greater(t, second.Version, first.Version)

	c.Set("AAPL", "week", []int{4})
	c.Set("MSFT", "day", []int{5})
	assert.Equal(t, 3, c.Len())

	c.Clear("AAPL")
	c.Clear("AAPL")
	c.Clear("NOPE")
	assert.False(t, c.Has("AAPL", "day"))
	assert.False(t, c.Has("AAPL", "week"))
	assert.True(t, c.Has("MSFT", "day"))
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := error(&Error{Kind: NetworkFailure, Context: "AAPL", Sub: "day", Page: 2, Err: cause})

	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEmptyResult)
	assert.Contains(t, err.Error(), "AAPL/day page 2")
	assert.Equal(t, "stale_response", StaleResponse.String())
}

func TestWithTimeout(t *testing.T) {
	slow := FetchFunc[Single, int](func(ctx context.Context, _ Request[Single]) (Page[int], error) {
		<-ctx.Done()
		return Page[int]{}, ctx.Err()
	})
	_, err := WithTimeout(slow, 20*time.Millisecond).Fetch(context.Background(), Request[Single]{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")

	fast := FetchFunc[Single, int](func(context.Context, Request[Single]) (Page[int], error) {
		return Page[int]{Items: []int{1}}, nil
	})
	page, err := WithTimeout(fast, 0).Fetch(context.Background(), Request[Single]{})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, page.Items)
}

func TestWithRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := FetchFunc[Single, int](func(context.Context, Request[Single]) (Page[int], error) {
		if calls.Add(1) < 3 {
			return Page[int]{}, errors.New("transient")
		}
		return Page[int]{Items: []int{7}}, nil
	})
	page, err := WithRetry(flaky, RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond}).
		Fetch(context.Background(), Request[Single]{})
	require.NoError(t, err)
	assert.Equal(t, []int{7}, page.Items)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	errBad := errors.New("400 bad request")
	bad := FetchFunc[Single, int](func(context.Context, Request[Single]) (Page[int], error) {
		calls.Add(1)
		return Page[int]{}, errBad
	})
	_, err = WithRetry(bad, RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		Permanent:       func(err error) bool { return errors.Is(err, errBad) },
	}).Fetch(context.Background(), Request[Single]{})
	assert.ErrorIs(t, err, errBad)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoopDrainsController(t *testing.T) {
	f := pagedFetcher(10, 2)
	c := New[string, string](f, "day")
	loop := NewLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle := func(msg tea.Msg) tea.Cmd {
		c.Update(msg)
		return nil
	}

	loop.Go(c.SetContext("AAPL"))
	require.NoError(t, loop.Drain(ctx, handle))
	for !c.Snapshot().Exhausted {
		loop.Go(c.OnLoadMoreSignal())
		require.NoError(t, loop.Drain(ctx, handle))
	}
	assert.Len(t, c.Snapshot().Items, 30)
	assert.Equal(t, 0, loop.Pending())

	_, err := loop.Next(ctx)
	assert.ErrorIs(t, err, ErrIdle)
}

func TestLoopFansOutBatches(t *testing.T) {
	loop := NewLoop()
	one := func() tea.Msg { return 1 }
	two := func() tea.Msg { return 2 }
	loop.Go(func() tea.Msg { return tea.BatchMsg{one, two, nil} })

	var got []int
	require.NoError(t, loop.Drain(context.Background(), func(msg tea.Msg) tea.Cmd {
		got = append(got, msg.(int))
		return nil
	}))
	assert.ElementsMatch(t, []int{1, 2}, got)
}

func TestLoopCancelReleasesCommands(t *testing.T) {
	base := runtime.NumGoroutine()
	loop := NewLoop()
	gate := make(chan struct{})
	for i := 0; i < 40; i++ {
		loop.Go(func() tea.Msg {
			<-gate
			return i
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loop.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)

	close(gate)
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= base }, 2*time.Second, 10*time.Millisecond)
}
