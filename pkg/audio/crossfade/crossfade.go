// Package crossfade ramps channel volumes toward a target in fixed steps.
//
// A [Scheduler] owns at most one running [Task] per channel. Starting a new
// fade on a channel cancels the previous one; a cancelled task's tick that was
// already queued observes the cancellation and does nothing. Ticks are driven
// by an [eventloop.Scheduler], so every method of [Scheduler] must be called
// from the goroutine that executes the loop's callbacks.
//
// On each tick the current volume moves by the step size toward the target
// while the remaining distance exceeds one step. Once it is within a step the
// volume snaps exactly to the target, the task is marked [Completed], no
// further ticks are scheduled and the completion callback runs.
package crossfade

import (
	"math"
	"time"

	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/eventloop"
)

const (
	// DefaultStepSize is the volume delta applied per tick.
	DefaultStepSize = 0.05

	// DefaultStepInterval is the delay between consecutive ticks.
	DefaultStepInterval = 50 * time.Millisecond
)

// State is the lifecycle state of a [Task].
type State int

const (
	// Running means the task still schedules ticks.
	Running State = iota

	// Cancelled means the task was superseded or stopped before reaching its
	// target. Its completion callback never runs.
	Cancelled

	// Completed means the volume reached the target exactly.
	Completed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// VolumeSetter is the part of [audio.Transport] a [Scheduler] drives.
type VolumeSetter interface {
	SetVolume(ch audio.Channel, volume float64) error
}

// Task is one scheduled fade of a single channel.
type Task struct {
	// Channel is the channel being faded.
	Channel audio.Channel

	// StartVolume is the channel volume when the fade began.
	StartVolume float64

	// TargetVolume is the clamped volume the fade converges to.
	TargetVolume float64

	// StepSize and StepInterval are copied from the scheduler at start.
	StepSize     float64
	StepInterval time.Duration

	state      State
	startedAt  time.Time
	timer      eventloop.Timer
	onComplete func()
}

// State reports the task's lifecycle state.
func (t *Task) State() State { return t.state }

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithStepSize sets the per-tick volume delta. Values that are not strictly
// positive are ignored.
func WithStepSize(step float64) Option {
	return func(s *Scheduler) {
		if step > 0 && !math.IsNaN(step) {
			s.step = step
		}
	}
}

// WithStepInterval sets the delay between ticks. Non-positive durations are
// ignored.
func WithStepInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithErrorHandler registers fn to receive SetVolume failures. A failed
// SetVolume does not stop the fade; the tracked volume still advances.
func WithErrorHandler(fn func(ch audio.Channel, err error)) Option {
	return func(s *Scheduler) {
		s.onError = fn
	}
}

// WithCompletionHook registers fn to run whenever a task completes, before
// the task's own completion callback. elapsed is measured on the loop clock.
func WithCompletionHook(fn func(t *Task, elapsed time.Duration)) Option {
	return func(s *Scheduler) {
		s.onDone = fn
	}
}

// Scheduler runs volume fades for both channels of a transport.
//
// The scheduler is the authority on channel volume: [Scheduler.Volume] is the
// last value it sent, which is also where a replacement fade resumes from.
// Scheduler is not safe for concurrent use; see the package documentation.
type Scheduler struct {
	out   VolumeSetter
	clock eventloop.Scheduler

	step     float64
	interval time.Duration
	onError  func(audio.Channel, error)
	onDone   func(*Task, time.Duration)

	volumes [len(audio.Channels)]float64
	active  [len(audio.Channels)]*Task
}

// New creates a Scheduler that writes volumes to out and schedules ticks
// on clock.
func New(out VolumeSetter, clock eventloop.Scheduler, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:      out,
		clock:    clock,
		step:     DefaultStepSize,
		interval: DefaultStepInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StepSize returns the configured per-tick delta.
func (s *Scheduler) StepSize() float64 { return s.step }

// StepInterval returns the configured tick delay.
func (s *Scheduler) StepInterval() time.Duration { return s.interval }

// Fade starts ramping ch toward target, replacing any running task on ch.
// The first tick fires one step interval after the call. onComplete may be
// nil; it runs only if the task completes.
func (s *Scheduler) Fade(ch audio.Channel, target float64, onComplete func()) *Task {
	s.Cancel(ch)

	t := &Task{
		Channel:      ch,
		StartVolume:  s.volumes[ch],
		TargetVolume: audio.ClampVolume(target),
		StepSize:     s.step,
		StepInterval: s.interval,
		state:        Running,
		startedAt:    s.clock.Now(),
		onComplete:   onComplete,
	}
	s.active[ch] = t
	s.schedule(t)
	return t
}

// SetVolume cancels any fade on ch and sets its volume immediately.
func (s *Scheduler) SetVolume(ch audio.Channel, volume float64) {
	s.Cancel(ch)
	s.apply(ch, volume)
}

// Cancel stops the running task on ch, if any, and reports whether one was
// running. The current volume is left where the task put it.
func (s *Scheduler) Cancel(ch audio.Channel) bool {
	t := s.active[ch]
	if t == nil {
		return false
	}
	t.state = Cancelled
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	s.active[ch] = nil
	return true
}

// CancelAll stops the running tasks on every channel.
func (s *Scheduler) CancelAll() {
	for _, ch := range audio.Channels {
		s.Cancel(ch)
	}
}

// Active returns the running task on ch, or nil.
func (s *Scheduler) Active(ch audio.Channel) *Task {
	return s.active[ch]
}

// Volume returns the last volume written to ch.
func (s *Scheduler) Volume(ch audio.Channel) float64 {
	return s.volumes[ch]
}

func (s *Scheduler) schedule(t *Task) {
	t.timer = s.clock.AfterFunc(t.StepInterval, func() { s.tick(t) })
}

func (s *Scheduler) tick(t *Task) {
	// A tick that was queued before the task was replaced or cancelled.
	if t.state != Running {
		return
	}
	t.timer = nil

	ch := t.Channel
	diff := t.TargetVolume - s.volumes[ch]
	if math.Abs(diff) > t.StepSize {
		s.apply(ch, s.volumes[ch]+math.Copysign(t.StepSize, diff))
		s.schedule(t)
		return
	}

	s.apply(ch, t.TargetVolume)
	t.state = Completed
	if s.active[ch] == t {
		s.active[ch] = nil
	}
	if s.onDone != nil {
		s.onDone(t, s.clock.Now().Sub(t.startedAt))
	}
	if t.onComplete != nil {
		t.onComplete()
	}
}

func (s *Scheduler) apply(ch audio.Channel, volume float64) {
	v := audio.ClampVolume(volume)
	s.volumes[ch] = v
	if err := s.out.SetVolume(ch, v); err != nil && s.onError != nil {
		s.onError(ch, err)
	}
}
