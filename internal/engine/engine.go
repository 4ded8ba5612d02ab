// Package engine implements the live audio router.
//
// The router listens to a classifier that scores the primary feed and, when
// the configured class becomes confident enough, crossfades a substitute
// track over the muted primary. When the confidence falls again the
// substitute fades out and the primary is restored. Two thresholds with a
// dead band between them keep the router from flapping.
//
// All routing state lives in a [Core] that is confined to one event loop.
// [Engine] wraps a Core with a real [eventloop.Loop], pumps classifier
// results into it and exposes the blocking Start/Stop control surface.
//
// This package lives under internal/ because it encapsulates application-private
// processing logic and is not intended to be imported by external code.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/eventloop"
	"github.com/MrWong99/radiogate/pkg/provider/classifier"
)

// Controller is the control surface of a router. [Engine] implements it;
// engine/mock provides a test double.
type Controller interface {
	// Start plays the primary feed and begins routing classifier results.
	Start(ctx context.Context) error

	// Stop cancels all fades, stops listening, pauses both channels and
	// returns the mode to primary.
	Stop(ctx context.Context) error

	// Status returns a snapshot of the router state.
	Status() Status

	// Reconfigure replaces the configuration. It fails while running.
	Reconfigure(cfg Config) error

	// OnModeChange, OnConfidence and OnError register listeners. Listeners
	// run on the router's goroutine and must not block or call Start/Stop.
	OnModeChange(fn func(ModeChange))
	OnConfidence(fn func(ConfidenceSample))
	OnError(fn func(error))
}

// Compile-time interface assertion.
var _ Controller = (*Engine)(nil)

// runState is the per-start state torn down by Stop.
type runState struct {
	cancel  context.CancelFunc
	session classifier.SessionHandle
	stop    chan struct{}
	done    chan struct{}
}

// Engine runs a [Core] on its own event loop.
//
// Engine is safe for concurrent use. Start, Stop, Reconfigure and Close are
// serialised; Status never blocks.
type Engine struct {
	tr  audio.Transport
	clf classifier.Engine
	log *slog.Logger

	loop       *eventloop.Loop
	loopCancel context.CancelFunc
	core       *Core

	ctrl    sync.Mutex // serialises the control methods
	run     *runState
	closed  bool
	running atomic.Bool

	cfgMu sync.RWMutex
	cfg   Config
}

// New validates cfg and returns a stopped Engine. Invalid thresholds fail
// with [ErrInvalidThresholds]. Call [Engine.Close] to release the loop.
func New(cfg Config, tr audio.Transport, clf classifier.Engine, opts ...Option) (*Engine, error) {
	if tr == nil {
		return nil, errors.New("engine: transport must not be nil")
	}
	if clf == nil {
		return nil, errors.New("engine: classifier must not be nil")
	}

	loop := eventloop.New()
	core, err := NewCore(cfg, tr, loop, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	return &Engine{
		tr:         tr,
		clf:        clf,
		log:        core.log,
		loop:       loop,
		loopCancel: cancel,
		core:       core,
		cfg:        core.Config(),
	}, nil
}

// Start assigns sources, plays the primary feed and starts listening. A
// refused primary play fails with [ErrPlaybackBlocked] and leaves the engine
// stopped. A running engine that halted is stopped first and started again;
// otherwise a running engine fails with [ErrAlreadyRunning].
func (e *Engine) Start(ctx context.Context) error {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.run != nil {
		if !e.core.Status().Halted {
			return ErrAlreadyRunning
		}
		e.log.Info("restarting halted engine", slog.String("message", e.core.Status().Message))
		if err := e.stopLocked(ctx); err != nil {
			e.log.Warn("stop before restart failed", slog.Any("err", err))
		}
	}

	bg := context.Background()
	if err := e.loop.Do(ctx, e.core.Prepare); err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}

	if err := e.tr.Play(ctx, audio.Primary); err != nil {
		var serr error
		_ = e.loop.Do(bg, func() { serr = e.core.StartFailed(err) })
		if serr == nil {
			serr = fmt.Errorf("%w: %w", ErrPlaybackBlocked, err)
		}
		return fmt.Errorf("engine: start: %w", serr)
	}

	cfg := e.Config()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess, err := e.clf.Listen(runCtx, cfg.Listen)
	if err != nil {
		cancel()
		if perr := e.tr.Pause(ctx, audio.Primary); perr != nil {
			e.log.Warn("failed to pause primary after listen error", slog.Any("err", perr))
		}
		_ = e.loop.Do(bg, e.core.Reset)
		return fmt.Errorf("engine: start: listen: %w", err)
	}

	if err := e.loop.Do(bg, func() { e.core.Activate(runCtx) }); err != nil {
		cancel()
		_ = sess.Close()
		return fmt.Errorf("engine: start: %w", err)
	}

	rs := &runState{
		cancel:  cancel,
		session: sess,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go e.pump(rs)
	e.run = rs
	e.running.Store(true)
	return nil
}

// pump forwards classifier results to the loop one at a time, in arrival
// order, until the session ends or Stop is called.
func (e *Engine) pump(rs *runState) {
	defer close(rs.done)
	results := rs.session.Results()
	for {
		select {
		case <-rs.stop:
			return
		case r, ok := <-results:
			if !ok {
				if err := rs.session.Err(); err != nil {
					e.loop.Post(func() { e.core.ClassifierLost(err) })
				}
				return
			}
			e.loop.Post(func() { e.core.HandleResult(r) })
		}
	}
}

// Stop tears down a running engine in order: fades cancelled, classifier
// closed, both channels paused, mode reset to primary. No fade tick changes
// a volume after Stop returns. Pause failures are returned joined but do not
// abort the stop.
func (e *Engine) Stop(ctx context.Context) error {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.run == nil {
		return ErrNotRunning
	}
	return e.stopLocked(ctx)
}

func (e *Engine) stopLocked(ctx context.Context) error {
	rs := e.run
	bg := context.Background()

	_ = e.loop.Do(bg, e.core.Quiesce)

	close(rs.stop)
	rs.cancel()
	if err := rs.session.Close(); err != nil {
		e.log.Warn("failed to close classifier session", slog.Any("err", err))
	}
	<-rs.done

	var errs []error
	for _, ch := range audio.Channels {
		if err := e.tr.Pause(ctx, ch); err != nil {
			errs = append(errs, &TransportError{Op: "pause", Channel: ch, Err: err})
		}
	}

	_ = e.loop.Do(bg, e.core.Reset)
	e.run = nil
	e.running.Store(false)

	if len(errs) > 0 {
		return fmt.Errorf("engine: stop: %w", errors.Join(errs...))
	}
	return nil
}

// Reconfigure validates cfg and applies it to a stopped engine; the next
// Start uses it.
func (e *Engine) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.run != nil {
		return fmt.Errorf("engine: reconfigure: %w", ErrAlreadyRunning)
	}

	var (
		rerr    error
		applied Config
	)
	if err := e.loop.Do(context.Background(), func() {
		rerr = e.core.Reconfigure(cfg)
		applied = e.core.Config()
	}); err != nil {
		return fmt.Errorf("engine: reconfigure: %w", err)
	}
	if rerr != nil {
		return rerr
	}
	e.cfgMu.Lock()
	e.cfg = applied
	e.cfgMu.Unlock()
	return nil
}

// Close stops the engine if running and shuts the loop down. Calling Close
// more than once is safe.
func (e *Engine) Close() error {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	if e.closed {
		return nil
	}
	var err error
	if e.run != nil {
		err = e.stopLocked(context.Background())
	}
	e.closed = true
	e.loopCancel()
	<-e.loop.Done()
	return err
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Running reports whether the engine is started.
func (e *Engine) Running() bool { return e.running.Load() }

// Status returns the last published router snapshot.
func (e *Engine) Status() Status { return e.core.Status() }

// OnModeChange registers fn for mode transitions.
func (e *Engine) OnModeChange(fn func(ModeChange)) { e.core.OnModeChange(fn) }

// OnConfidence registers fn for accepted samples.
func (e *Engine) OnConfidence(fn func(ConfidenceSample)) { e.core.OnConfidence(fn) }

// OnError registers fn for recoverable errors.
func (e *Engine) OnError(fn func(error)) { e.core.OnError(fn) }
