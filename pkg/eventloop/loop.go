// Package eventloop provides the serial executor the routing core runs on.
//
// Every callback handed to a [Loop] runs on a single goroutine in FIFO order.
// That includes timer expiries and the completion half of asynchronous work.
// Code executed on the loop therefore never needs its own locking.
//
// The core depends only on the [Scheduler] interface so that tests can drive
// it deterministically with eventloop/manual.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by [Loop.Do] once the loop has stopped running.
var ErrClosed = errors.New("eventloop: closed")

// Timer is a pending [Scheduler.AfterFunc] callback.
type Timer interface {
	// Stop prevents the callback from being scheduled. It reports whether the
	// call stopped the timer; false means the callback already fired or was
	// already posted to the loop.
	Stop() bool
}

// Scheduler is the execution context seen by loop-owned code.
type Scheduler interface {
	// AfterFunc runs f on the loop once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// Go runs work off the loop and then runs done(err) on the loop with the
	// result. Use it for calls that may block.
	Go(work func() error, done func(error))

	// Now returns the scheduler's notion of the current time.
	Now() time.Time
}

// Compile-time interface assertion.
var _ Scheduler = (*Loop)(nil)

// Loop is the production [Scheduler]. Create one with [New], start it with
// [Loop.Run] on its own goroutine, and post work with [Loop.Post] or
// [Loop.Do]. The queue is unbounded so callbacks may post further work
// without deadlocking.
//
// All exported methods are safe for concurrent use.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	running bool

	notify chan struct{} // signalled when work is queued
	done   chan struct{} // closed when Run returns
}

// New returns a Loop that is not yet running.
func New() *Loop {
	return &Loop{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Run executes queued callbacks until ctx is cancelled. Remaining queued
// callbacks are discarded. Run must be called at most once.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.running || l.closed {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.notify:
		}

		for {
			f, ok := l.next()
			if !ok {
				break
			}
			f()
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// Done returns a channel that is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues f for execution on the loop. Posting to a closed loop is a
// no-op.
func (l *Loop) Post(f func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Do runs f on the loop and waits for it to return. It fails with ctx.Err()
// if ctx ends first (f may still run later) and with [ErrClosed] if the loop
// stops before f ran.
func (l *Loop) Do(ctx context.Context, f func()) error {
	ran := make(chan struct{})
	l.Post(func() {
		f()
		close(ran)
	})
	select {
	case <-ran:
		return nil
	case <-l.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc posts f to the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() { l.Post(f) })
}

// Go runs work on a new goroutine and posts done with its result.
func (l *Loop) Go(work func() error, done func(error)) {
	go func() {
		err := work()
		l.Post(func() { done(err) })
	}()
}

// Now returns the wall clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// next pops the oldest queued callback.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	f := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return f, true
}
