package engine

import (
	"errors"
	"fmt"

	"github.com/MrWong99/radiogate/pkg/audio"
)

var (
	// ErrInvalidSample is reported when a classifier result has no usable
	// score at the configured class index. The sample is dropped.
	ErrInvalidSample = errors.New("engine: invalid sample")

	// ErrPlaybackBlocked is reported when the player refused to start a
	// channel. The router reverts to the primary feed and halts until the
	// next Start.
	ErrPlaybackBlocked = errors.New("engine: playback blocked")

	// ErrInvalidThresholds is returned from construction and reconfiguration
	// when the hysteresis thresholds are out of range or inverted.
	ErrInvalidThresholds = errors.New("engine: invalid thresholds")

	// ErrNotRunning is returned by Stop when the engine is not running.
	ErrNotRunning = errors.New("engine: not running")

	// ErrAlreadyRunning is returned by Start while the engine is running and
	// not halted, and by Reconfigure while it is running.
	ErrAlreadyRunning = errors.New("engine: already running")

	// ErrClosed is returned by every control method after Close.
	ErrClosed = errors.New("engine: closed")
)

// TransportError describes a failed transport command other than a refused
// play.
type TransportError struct {
	// Op is the transport operation: "play", "pause", "mute", "volume" or
	// "source".
	Op      string
	Channel audio.Channel
	Err     error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("engine: %s %s: %v", e.Op, e.Channel, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *TransportError) Unwrap() error { return e.Err }
