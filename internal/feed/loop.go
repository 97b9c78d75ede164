package feed

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrIdle is returned by Loop.Next when no command is outstanding.
var ErrIdle = errors.New("loop idle")

// Loop stands in for a tea.Program outside the TUI. Commands run on their
// own goroutines; their messages come back through Next so that the
// caller applies them on a single goroutine.
type Loop struct {
	msgs    chan tea.Msg
	done    chan struct{}
	stop    sync.Once
	pending int
}

func NewLoop() *Loop {
	return &Loop{msgs: make(chan tea.Msg, 16), done: make(chan struct{})}
}

// Go starts cmd. Nil commands are ignored and batches are fanned out.
func (l *Loop) Go(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	l.pending++
	go func() {
		msg := cmd()
		select {
		case l.msgs <- msg:
		case <-l.done:
		}
	}()
}

// Stop abandons outstanding commands. Their messages are discarded once
// they finish.
func (l *Loop) Stop() {
	l.stop.Do(func() { close(l.done) })
}

// Pending counts commands whose message has not been taken yet.
func (l *Loop) Pending() int { return l.pending }

// Next waits for the next message. A cancelled ctx stops the loop.
func (l *Loop) Next(ctx context.Context) (tea.Msg, error) {
	for {
		if l.pending == 0 {
			return nil, ErrIdle
		}
		select {
		case <-ctx.Done():
			l.Stop()
			return nil, ctx.Err()
		case msg := <-l.msgs:
			l.pending--
			if batch, ok := msg.(tea.BatchMsg); ok {
				for _, cmd := range batch {
					l.Go(cmd)
				}
				continue
			}
			if msg == nil {
				continue
			}
			return msg, nil
		}
	}
}

// Drain delivers messages to handle until no command is outstanding.
// Commands returned by handle are started before the next wait.
func (l *Loop) Drain(ctx context.Context, handle func(tea.Msg) tea.Cmd) error {
	for {
		msg, err := l.Next(ctx)
		if errors.Is(err, ErrIdle) {
			return nil
		}
		if err != nil {
			return err
		}
		l.Go(handle(msg))
	}
}
