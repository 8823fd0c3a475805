// Package actor provides the single-goroutine mailbox every party runs its state changes on.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const DefaultQueueSize = 64

var ErrStopped = errors.New("mailbox stopped")

type job struct {
	fn   func()
	done chan error
}

// Mailbox executes closures one at a time in submission order.
// A closure must never wait on another actor; cross-actor calls happen
// between mailbox steps in the caller's goroutine.
type Mailbox struct {
	name     string
	jobs     chan job
	stopped  chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

func New(name string, queueSize int) *Mailbox {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Mailbox{
		name:    name,
		jobs:    make(chan job, queueSize),
		stopped: make(chan struct{}),
		logger:  slog.With("component", "mailbox", "actor", name),
	}
}

// Run processes jobs until ctx is done or Stop is called.
func (m *Mailbox) Run(ctx context.Context) {
	defer m.Stop()
	for {
		select {
		case j := <-m.jobs:
			err := m.exec(j.fn)
			if j.done != nil {
				j.done <- err
			}
		case <-ctx.Done():
			return
		case <-m.stopped:
			return
		}
	}
}

func (m *Mailbox) exec(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in mailbox step", "panic", r)
			err = fmt.Errorf("actor %s: panic: %v", m.name, r)
		}
	}()
	fn()
	return nil
}

// Do runs fn on the mailbox and waits for it to finish.
func (m *Mailbox) Do(ctx context.Context, fn func()) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case m.jobs <- j:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post enqueues fn without waiting. It reports false if the mailbox is stopped or full.
func (m *Mailbox) Post(fn func()) bool {
	select {
	case <-m.stopped:
		return false
	default:
	}

	select {
	case m.jobs <- job{fn: fn}:
		return true
	default:
		m.logger.Warn("mailbox full, dropping job")
		return false
	}
}

func (m *Mailbox) Stop() {
	m.stopOnce.Do(func() { close(m.stopped) })
}

func (m *Mailbox) Stopped() <-chan struct{} {
	return m.stopped
}

// Call runs fn on the mailbox and returns its result.
func Call[T any](ctx context.Context, m *Mailbox, fn func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	if doErr := m.Do(ctx, func() { result, err = fn() }); doErr != nil {
		var zero T
		return zero, doErr
	}
	return result, err
}
