package manual_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/radiogate/pkg/eventloop/manual"
)

func TestAdvance_FiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	l := manual.New()
	var got []string
	l.AfterFunc(30*time.Millisecond, func() { got = append(got, "c") })
	l.AfterFunc(10*time.Millisecond, func() { got = append(got, "a") })
	l.AfterFunc(10*time.Millisecond, func() { got = append(got, "b") })
	l.AfterFunc(50*time.Millisecond, func() { got = append(got, "late") })

	l.Advance(30 * time.Millisecond)

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if l.Elapsed() != 30*time.Millisecond {
		t.Errorf("Elapsed = %v, want 30ms", l.Elapsed())
	}
	if l.PendingTimers() != 1 {
		t.Errorf("PendingTimers = %d, want 1", l.PendingTimers())
	}
}

func TestAdvance_RescheduledWithinWindow(t *testing.T) {
	t.Parallel()

	l := manual.New()
	var at []time.Duration
	var step func()
	step = func() {
		at = append(at, l.Elapsed())
		if len(at) < 5 {
			l.AfterFunc(50*time.Millisecond, step)
		}
	}
	l.AfterFunc(50*time.Millisecond, step)

	l.Advance(time.Second)

	if len(at) != 5 {
		t.Fatalf("fired %d times, want 5", len(at))
	}
	for i, d := range at {
		if want := time.Duration(i+1) * 50 * time.Millisecond; d != want {
			t.Errorf("fire %d at %v, want %v", i, d, want)
		}
	}
}

func TestTimerStop(t *testing.T) {
	t.Parallel()

	l := manual.New()
	fired := false
	tm := l.AfterFunc(time.Millisecond, func() { fired = true })
	if !tm.Stop() {
		t.Error("first Stop returned false")
	}
	if tm.Stop() {
		t.Error("second Stop returned true")
	}
	l.Advance(time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()

	l := manual.New()
	boom := errors.New("boom")
	var order []string

	l.Go(func() error { order = append(order, "work1"); return nil }, func(err error) {
		order = append(order, "done1")
		l.Go(func() error { return boom }, func(err error) {
			if !errors.Is(err, boom) {
				t.Errorf("err = %v, want boom", err)
			}
			order = append(order, "done2")
		})
	})

	if l.PendingJobs() != 1 {
		t.Fatalf("PendingJobs = %d, want 1", l.PendingJobs())
	}
	if n := l.Flush(); n != 2 {
		t.Errorf("Flush ran %d jobs, want 2", n)
	}
	want := []string{"work1", "done1", "done2"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestNowAdvances(t *testing.T) {
	t.Parallel()

	l := manual.New()
	start := l.Now()
	l.Advance(1500 * time.Millisecond)
	if got := l.Now().Sub(start); got != 1500*time.Millisecond {
		t.Errorf("Now advanced %v, want 1.5s", got)
	}
}
