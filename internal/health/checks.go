package health

import (
	"context"
	"errors"

	"github.com/MrWong99/radiogate/internal/engine"
)

// StatusSource is the part of the router a readiness check needs.
type StatusSource interface {
	Status() engine.Status
}

// ConnectionSource reports whether a remote peer is attached.
type ConnectionSource interface {
	Connected() bool
}

// Router returns a checker that fails while the router is halted, for
// example after the player refused playback. A stopped router is ready.
func Router(src StatusSource) Checker {
	return Checker{
		Name: "router",
		Check: func(context.Context) error {
			st := src.Status()
			if st.Halted {
				return errors.New(st.Message)
			}
			return nil
		},
	}
}

// Player returns a checker that fails while no player is attached.
func Player(src ConnectionSource) Checker {
	return Checker{
		Name: "player",
		Check: func(context.Context) error {
			if !src.Connected() {
				return errors.New("no player connected")
			}
			return nil
		},
	}
}
