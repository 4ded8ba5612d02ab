// Package mock provides a recording implementation of [audio.Transport] for
// use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on order and arguments, it tracks the resulting channel
// state like audio/memory, and it exposes exported fields that the test can
// set to control return values.
//
// Typical usage:
//
//	tr := &mock.Transport{
//	    PlayErr: map[audio.Channel]error{
//	        audio.Secondary: &audio.PlaybackError{Channel: audio.Secondary, Blocked: true},
//	    },
//	}
//	err := tr.Play(ctx, audio.Secondary)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/audio/memory"
)

// Compile-time interface assertion.
var _ audio.Transport = (*Transport)(nil)

// Op names a transport method in a recorded [Call].
type Op string

const (
	OpPlay      Op = "play"
	OpPause     Op = "pause"
	OpSetMuted  Op = "mute"
	OpSetVolume Op = "volume"
	OpSetSource Op = "source"
)

// Call records a single transport invocation.
type Call struct {
	Op      Op
	Channel audio.Channel
	Muted   bool
	Volume  float64
	Source  string
}

// Transport is a mock implementation of [audio.Transport].
type Transport struct {
	mu sync.Mutex

	state memory.Transport

	// PlayErr, if it holds an entry for the channel, is returned by Play and
	// the channel is left paused.
	PlayErr map[audio.Channel]error

	// PauseErr, if it holds an entry for the channel, is returned by Pause.
	PauseErr map[audio.Channel]error

	// VolumeErr, if non-nil, is returned by every SetVolume call.
	VolumeErr error

	// PlayGate, if non-nil, makes Play block until a value is received from
	// the channel or ctx is done. Use it to hold a play request pending.
	PlayGate chan struct{}

	// Calls records every invocation in order.
	Calls []Call
}

// Play records the call and returns PlayErr[ch].
func (t *Transport) Play(ctx context.Context, ch audio.Channel) error {
	t.mu.Lock()
	t.Calls = append(t.Calls, Call{Op: OpPlay, Channel: ch})
	gate := t.PlayGate
	err := t.PlayErr[ch]
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return t.state.Play(ctx, ch)
}

// Pause records the call and returns PauseErr[ch].
func (t *Transport) Pause(ctx context.Context, ch audio.Channel) error {
	t.mu.Lock()
	t.Calls = append(t.Calls, Call{Op: OpPause, Channel: ch})
	err := t.PauseErr[ch]
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return t.state.Pause(ctx, ch)
}

// SetMuted records the call.
func (t *Transport) SetMuted(ch audio.Channel, muted bool) error {
	t.mu.Lock()
	t.Calls = append(t.Calls, Call{Op: OpSetMuted, Channel: ch, Muted: muted})
	t.mu.Unlock()
	return t.state.SetMuted(ch, muted)
}

// SetVolume records the call and returns VolumeErr.
func (t *Transport) SetVolume(ch audio.Channel, volume float64) error {
	t.mu.Lock()
	t.Calls = append(t.Calls, Call{Op: OpSetVolume, Channel: ch, Volume: volume})
	err := t.VolumeErr
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return t.state.SetVolume(ch, volume)
}

// SetSource records the call.
func (t *Transport) SetSource(ch audio.Channel, source string) error {
	t.mu.Lock()
	t.Calls = append(t.Calls, Call{Op: OpSetSource, Channel: ch, Source: source})
	t.mu.Unlock()
	return t.state.SetSource(ch, source)
}

// State returns the tracked state of ch.
func (t *Transport) State(ch audio.Channel) audio.ChannelState {
	return t.state.State(ch)
}

// CallsSnapshot returns a copy of the recorded calls. Thread-safe.
func (t *Transport) CallsSnapshot() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, len(t.Calls))
	copy(out, t.Calls)
	return out
}

// Count returns how many calls with op were recorded for ch.
func (t *Transport) Count(op Op, ch audio.Channel) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.Calls {
		if c.Op == op && c.Channel == ch {
			n++
		}
	}
	return n
}

// Volumes returns the volumes passed to SetVolume for ch, in order.
func (t *Transport) Volumes(ch audio.Channel) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []float64
	for _, c := range t.Calls {
		if c.Op == OpSetVolume && c.Channel == ch {
			out = append(out, c.Volume)
		}
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}
