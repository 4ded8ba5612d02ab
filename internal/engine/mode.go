package engine

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Mode is which channel is routed to the listener.
type Mode int

const (
	// ModePrimary routes the live feed.
	ModePrimary Mode = iota

	// ModeSecondary routes the substitute track with the live feed muted.
	ModeSecondary
)

// String returns the lower-case mode name.
func (m Mode) String() string {
	switch m {
	case ModePrimary:
		return "primary"
	case ModeSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name written by [Mode.MarshalText].
func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "primary":
		*m = ModePrimary
	case "secondary":
		*m = ModeSecondary
	default:
		return fmt.Errorf("engine: unknown mode %q", b)
	}
	return nil
}

// Default hysteresis thresholds.
const (
	DefaultEnterSecondary = 0.85
	DefaultExitSecondary  = 0.20
)

// Thresholds is the hysteresis pair of the mode controller. The router
// switches to the substitute when the confidence rises strictly above
// EnterSecondary and back when it falls strictly below ExitSecondary.
type Thresholds struct {
	EnterSecondary float64 `yaml:"enter_secondary" json:"enter_secondary"`
	ExitSecondary  float64 `yaml:"exit_secondary" json:"exit_secondary"`
}

// DefaultThresholds returns the default hysteresis pair.
func DefaultThresholds() Thresholds {
	return Thresholds{EnterSecondary: DefaultEnterSecondary, ExitSecondary: DefaultExitSecondary}
}

// Validate reports every problem with t, wrapped in [ErrInvalidThresholds].
// Both values must lie in [0, 1] and ExitSecondary must be strictly below
// EnterSecondary.
func (t Thresholds) Validate() error {
	var errs []error
	check := func(name string, v float64) {
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %v out of range [0, 1]", name, v))
		}
	}
	check("enter_secondary", t.EnterSecondary)
	check("exit_secondary", t.ExitSecondary)
	if len(errs) == 0 && t.ExitSecondary >= t.EnterSecondary {
		errs = append(errs, fmt.Errorf("exit_secondary %v must be below enter_secondary %v",
			t.ExitSecondary, t.EnterSecondary))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidThresholds, errors.Join(errs...))
	}
	return nil
}

// Transition reasons carried by [ModeChange].
const (
	ReasonThreshold       = "threshold"
	ReasonPlaybackBlocked = "playback_blocked"
	ReasonClassifierLost  = "classifier_lost"
	ReasonStopped         = "stopped"
)

// ModeChange is emitted once per mode transition.
type ModeChange struct {
	From   Mode      `json:"from"`
	To     Mode      `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`

	// Confidence is the sample that caused a threshold transition; zero for
	// other reasons.
	Confidence float64 `json:"confidence"`
}

// ConfidenceSample is one accepted classifier reading.
type ConfidenceSample struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Percent returns the value as a rounded percentage, as shown to operators.
func (s ConfidenceSample) Percent() int {
	return int(math.Round(s.Value * 100))
}
