// Package memory provides an in-process [audio.Transport] that only tracks
// channel state. No sound is produced.
//
// It backs the simulator and serves as the state model for the test doubles
// in audio/mock.
package memory

import (
	"context"
	"sync"

	"github.com/MrWong99/radiogate/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Transport = (*Transport)(nil)

// Transport records the effect of every command on a per-channel
// [audio.ChannelState]. The zero value is ready to use; both channels start
// paused, unmuted, at volume 0.
//
// All methods are safe for concurrent use.
type Transport struct {
	mu     sync.Mutex
	states [len(audio.Channels)]audio.ChannelState
}

// New returns an empty Transport.
func New() *Transport {
	return &Transport{}
}

// Play marks ch as playing.
func (t *Transport) Play(ctx context.Context, ch audio.Channel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[ch].Playing = true
	return nil
}

// Pause marks ch as paused.
func (t *Transport) Pause(ctx context.Context, ch audio.Channel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[ch].Playing = false
	return nil
}

// SetMuted records the mute flag of ch.
func (t *Transport) SetMuted(ch audio.Channel, muted bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[ch].Muted = muted
	return nil
}

// SetVolume records the clamped volume of ch.
func (t *Transport) SetVolume(ch audio.Channel, volume float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[ch].Volume = audio.ClampVolume(volume)
	return nil
}

// SetSource records the source of ch.
func (t *Transport) SetSource(ch audio.Channel, source string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[ch].Source = source
	return nil
}

// State returns a snapshot of the state of ch.
func (t *Transport) State(ch audio.Channel) audio.ChannelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[ch]
}
