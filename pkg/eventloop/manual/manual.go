// Package manual provides a deterministic [eventloop.Scheduler] driven by the
// test goroutine.
//
// Time only moves when [Loop.Advance] is called; timers due within the
// advanced window fire in deadline order (FIFO for equal deadlines) on the
// caller's goroutine. Work started with Go is queued until [Loop.Flush] runs
// it, which lets tests hold an asynchronous transport call "pending" for as
// long as they like.
//
// A Loop is not safe for concurrent use; drive it from one goroutine.
package manual

import (
	"slices"
	"time"

	"github.com/MrWong99/radiogate/pkg/eventloop"
)

// Compile-time interface assertion.
var _ eventloop.Scheduler = (*Loop)(nil)

// epoch is the virtual start time of every Loop.
var epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

type timer struct {
	deadline time.Duration
	seq      uint64
	f        func()
	stopped  bool
	fired    bool
}

// Stop prevents the timer from firing.
func (t *timer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type job struct {
	work func() error
	done func(error)
}

// Loop is a virtual-clock scheduler.
type Loop struct {
	now    time.Duration
	seq    uint64
	timers []*timer
	jobs   []job
}

// New returns a Loop at its virtual epoch.
func New() *Loop {
	return &Loop{}
}

// AfterFunc schedules f to run d after the current virtual time.
func (l *Loop) AfterFunc(d time.Duration, f func()) eventloop.Timer {
	if d < 0 {
		d = 0
	}
	l.seq++
	t := &timer{deadline: l.now + d, seq: l.seq, f: f}
	l.timers = append(l.timers, t)
	return t
}

// Go queues work; it runs on the next [Loop.Flush].
func (l *Loop) Go(work func() error, done func(error)) {
	l.jobs = append(l.jobs, job{work: work, done: done})
}

// Now returns the virtual time.
func (l *Loop) Now() time.Time {
	return epoch.Add(l.now)
}

// Elapsed returns the virtual time passed since the epoch.
func (l *Loop) Elapsed() time.Duration {
	return l.now
}

// Advance moves the virtual clock forward by d, firing every timer whose
// deadline falls inside the window, including timers scheduled by callbacks
// fired during the same Advance.
func (l *Loop) Advance(d time.Duration) {
	end := l.now + d
	for {
		t := l.nextDue(end)
		if t == nil {
			break
		}
		l.now = t.deadline
		t.fired = true
		t.f()
	}
	l.now = end
}

// Flush runs queued asynchronous work in FIFO order, including work queued by
// completions that run during the flush. It reports how many jobs ran.
func (l *Loop) Flush() int {
	n := 0
	for len(l.jobs) > 0 {
		j := l.jobs[0]
		l.jobs = l.jobs[1:]
		j.done(j.work())
		n++
	}
	return n
}

// PendingJobs reports how many Go calls are waiting for Flush.
func (l *Loop) PendingJobs() int {
	return len(l.jobs)
}

// PendingTimers reports how many timers are scheduled and not stopped.
func (l *Loop) PendingTimers() int {
	n := 0
	for _, t := range l.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// nextDue removes and returns the earliest live timer due at or before end.
func (l *Loop) nextDue(end time.Duration) *timer {
	l.timers = slices.DeleteFunc(l.timers, func(t *timer) bool {
		return t.stopped || t.fired
	})
	var best *timer
	for _, t := range l.timers {
		if t.deadline > end {
			continue
		}
		if best == nil || t.deadline < best.deadline ||
			(t.deadline == best.deadline && t.seq < best.seq) {
			best = t
		}
	}
	return best
}
