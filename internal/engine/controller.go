package engine

// ModeController is the two-state hysteresis machine. It decides transitions
// only; carrying them out is the job of [Core].
//
// Transitions are guarded by the current mode, so a second qualifying sample
// in the same direction is a no-op. Values inside [ExitSecondary,
// EnterSecondary] never cause a transition.
type ModeController struct {
	th   Thresholds
	mode Mode
}

// NewModeController validates th and returns a controller in [ModePrimary].
func NewModeController(th Thresholds) (*ModeController, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &ModeController{th: th}, nil
}

// Mode returns the current mode.
func (c *ModeController) Mode() Mode { return c.mode }

// Thresholds returns the configured pair.
func (c *ModeController) Thresholds() Thresholds { return c.th }

// Observe feeds one confidence value and returns the mode it moved to, if
// any.
func (c *ModeController) Observe(v float64) (to Mode, changed bool) {
	switch c.mode {
	case ModePrimary:
		if v > c.th.EnterSecondary {
			c.mode = ModeSecondary
			return c.mode, true
		}
	case ModeSecondary:
		if v < c.th.ExitSecondary {
			c.mode = ModePrimary
			return c.mode, true
		}
	}
	return c.mode, false
}

// Force sets the mode regardless of thresholds and returns the previous one.
func (c *ModeController) Force(m Mode) (from Mode) {
	from, c.mode = c.mode, m
	return from
}
