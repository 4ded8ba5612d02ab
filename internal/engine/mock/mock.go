// Package mock provides an in-memory mock implementation of
// [engine.Controller] for use in unit tests.
//
// The mock records every method call and allows the test to configure return
// values via exported fields. It is safe for concurrent use.
//
// Example:
//
//	c := &mock.Controller{StartError: engine.ErrPlaybackBlocked}
//	err := c.Start(ctx)
//	c.EmitModeChange(engine.ModeChange{From: engine.ModePrimary, To: engine.ModeSecondary})
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/radiogate/internal/engine"
)

// Compile-time interface assertion.
var _ engine.Controller = (*Controller)(nil)

// Controller is a mock implementation of [engine.Controller].
// All exported *Error fields control return values.
// All exported Call* fields accumulate invocation records.
type Controller struct {
	mu sync.Mutex

	// StartError is returned by [Controller.Start]. A nil StartError marks
	// the mock running.
	StartError error

	// StopError is returned by [Controller.Stop].
	StopError error

	// ReconfigureError is returned by [Controller.Reconfigure].
	ReconfigureError error

	// StatusResult is returned by [Controller.Status]. Running is kept in
	// step with successful Start and Stop calls.
	StatusResult engine.Status

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// ReconfigureCalls records every Config passed to Reconfigure.
	ReconfigureCalls []engine.Config

	modeFns []func(engine.ModeChange)
	confFns []func(engine.ConfidenceSample)
	errFns  []func(error)
}

// Start implements [engine.Controller].
func (c *Controller) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError == nil {
		c.StatusResult.Running = true
	}
	return c.StartError
}

// Stop implements [engine.Controller].
func (c *Controller) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	if c.StopError == nil {
		c.StatusResult.Running = false
	}
	return c.StopError
}

// Status implements [engine.Controller]. Returns StatusResult.
func (c *Controller) Status() engine.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.StatusResult
}

// Reconfigure implements [engine.Controller].
func (c *Controller) Reconfigure(cfg engine.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ReconfigureCalls = append(c.ReconfigureCalls, cfg)
	return c.ReconfigureError
}

// OnModeChange implements [engine.Controller].
func (c *Controller) OnModeChange(fn func(engine.ModeChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modeFns = append(c.modeFns, fn)
}

// OnConfidence implements [engine.Controller].
func (c *Controller) OnConfidence(fn func(engine.ConfidenceSample)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confFns = append(c.confFns, fn)
}

// OnError implements [engine.Controller].
func (c *Controller) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errFns = append(c.errFns, fn)
}

// EmitModeChange calls every registered mode listener with ev.
// Use this in tests to simulate a routing transition.
func (c *Controller) EmitModeChange(ev engine.ModeChange) {
	c.mu.Lock()
	fns := slices.Clone(c.modeFns)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// EmitConfidence calls every registered confidence listener with s.
func (c *Controller) EmitConfidence(s engine.ConfidenceSample) {
	c.mu.Lock()
	fns := slices.Clone(c.confFns)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// EmitError calls every registered error listener with err.
func (c *Controller) EmitError(err error) {
	c.mu.Lock()
	fns := slices.Clone(c.errFns)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
