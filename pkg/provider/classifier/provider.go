// Package classifier defines the Engine interface for audio classification
// backends.
//
// A classifier listens to a live audio stream and periodically publishes a
// score vector: one confidence value in [0, 1] per label the model knows. The
// routing core reads a single configured index of that vector and ignores the
// rest.
//
// Delivery is push-based. Listen returns a [SessionHandle] whose Results
// channel yields one [Result] per classification window, in arrival order.
// The channel is closed when the session ends, either because Close was called
// or because the backend failed; Err reports which.
//
// Implementations must be safe for concurrent use across different sessions.
package classifier

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultProbabilityThreshold is the listen threshold used when a Config
	// leaves it zero.
	DefaultProbabilityThreshold = 0.75

	// DefaultOverlapFactor is the window overlap used when a Config leaves it
	// zero.
	DefaultOverlapFactor = 0.5
)

// Config holds the listen options forwarded to the backend.
type Config struct {
	// ProbabilityThreshold is the score a label must exceed for the backend to
	// consider it recognised. Range: [0.0, 1.0]. It does not filter the
	// scores delivered in Results. Typical: 0.75.
	ProbabilityThreshold float64

	// OverlapFactor is the fraction by which consecutive classification
	// windows overlap. Range: [0.0, 1.0). Higher values produce results more
	// often. Typical: 0.5.
	OverlapFactor float64
}

// WithDefaults returns a copy of c with zero fields replaced by the package
// defaults.
func (c Config) WithDefaults() Config {
	if c.ProbabilityThreshold == 0 {
		c.ProbabilityThreshold = DefaultProbabilityThreshold
	}
	if c.OverlapFactor == 0 {
		c.OverlapFactor = DefaultOverlapFactor
	}
	return c
}

// Validate reports whether the options are within range.
func (c Config) Validate() error {
	if c.ProbabilityThreshold < 0 || c.ProbabilityThreshold > 1 {
		return fmt.Errorf("classifier: probability threshold %v out of range [0, 1]", c.ProbabilityThreshold)
	}
	if c.OverlapFactor < 0 || c.OverlapFactor >= 1 {
		return fmt.Errorf("classifier: overlap factor %v out of range [0, 1)", c.OverlapFactor)
	}
	return nil
}

// Result is one classification window.
type Result struct {
	// Scores holds one confidence per label, indexed like Labels.
	Scores []float64

	// Labels names each score slot. It may be empty when the backend does not
	// publish label names.
	Labels []string

	// At is when the result was received.
	At time.Time
}

// SessionHandle is an active listen session. It is an interface so that test
// code can supply mock implementations without a live backend.
type SessionHandle interface {
	// Results returns the channel of classification results. It is closed
	// when the session ends.
	Results() <-chan Result

	// Err returns the error that ended the session, or nil if it is still
	// running or was closed by the caller.
	Err() error

	// Close stops listening and releases all resources. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Engine is the factory for listen sessions. It is the top-level interface
// implemented by each classifier backend.
type Engine interface {
	// Listen starts classifying the backend's audio input with cfg. Results
	// flow until the returned session is closed or ctx is cancelled.
	Listen(ctx context.Context, cfg Config) (SessionHandle, error)
}
