// Package audio defines the transport contract between the routing core and
// the two playback channels it controls.
//
// The routing core never touches audio samples. It issues high-level
// transport commands (play, pause, mute, volume, source) against exactly two
// channels:
//
//   - [Primary]: the live feed that is muted while the substitute plays.
//   - [Secondary]: the substitute track faded in over the primary.
//
// Implementations of [Transport] are provided by adapter packages
// (e.g., audio/remote for a browser-hosted player, audio/memory for
// simulation). The interface is intentionally narrow so that the engine stays
// decoupled from whatever is actually producing sound.
//
// This package lives under pkg/ because external code (third-party players)
// is expected to implement [Transport].
package audio

import (
	"context"
	"fmt"
)

// Channel identifies one of the two playback channels.
type Channel int

const (
	// Primary is the live feed.
	Primary Channel = iota

	// Secondary is the substitute track.
	Secondary
)

// Channels lists both channels in a stable order.
var Channels = [...]Channel{Primary, Secondary}

// String returns the wire name of the channel.
func (c Channel) String() string {
	switch c {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// ParseChannel converts a wire name back into a [Channel].
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "primary":
		return Primary, nil
	case "secondary":
		return Secondary, nil
	default:
		return 0, fmt.Errorf("audio: unknown channel %q", s)
	}
}

// ChannelState is the observable state of a single channel.
type ChannelState struct {
	// Volume is the linear gain in [0, 1].
	Volume float64 `json:"volume"`

	// Muted reports whether output is silenced without pausing playback.
	Muted bool `json:"muted"`

	// Playing reports whether the channel is currently advancing.
	Playing bool `json:"playing"`

	// Source is the identifier last passed to [Transport.SetSource].
	Source string `json:"source,omitempty"`
}

// PlaybackError is returned by [Transport.Play] when the channel refused to
// start. Blocked is set when the refusal comes from a permission gate (for
// example a browser autoplay policy) rather than a broken source.
type PlaybackError struct {
	Channel Channel
	Blocked bool
	Reason  string
}

// Error implements the error interface.
func (e *PlaybackError) Error() string {
	if e.Blocked {
		return fmt.Sprintf("audio: play %s blocked: %s", e.Channel, e.Reason)
	}
	return fmt.Sprintf("audio: play %s failed: %s", e.Channel, e.Reason)
}

// Transport drives the two playback channels.
//
// Play and Pause may block (they typically round-trip to the player) and are
// therefore never called from the routing event loop directly. SetMuted,
// SetVolume and SetSource must not block; implementations that talk to a
// remote player queue these commands and return immediately.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Play starts or resumes playback on ch. A refusal is reported as a
	// *[PlaybackError].
	Play(ctx context.Context, ch Channel) error

	// Pause stops playback on ch. Pausing a paused channel is a no-op.
	Pause(ctx context.Context, ch Channel) error

	// SetMuted silences or restores ch without affecting playback position.
	SetMuted(ch Channel, muted bool) error

	// SetVolume sets the linear gain of ch. Values are clamped to [0, 1].
	SetVolume(ch Channel, volume float64) error

	// SetSource assigns the media identifier (URL or path) played by ch.
	SetSource(ch Channel, source string) error
}

// ClampVolume limits v to the closed interval [0, 1].
func ClampVolume(v float64) float64 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
