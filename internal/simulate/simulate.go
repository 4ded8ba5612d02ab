// Package simulate replays recorded classifier scores through the routing
// core on a virtual clock.
//
// The run is deterministic: the core drives an in-memory transport from a
// manual event loop, and the clock advances by a fixed interval per row.
// The result is one [Step] per row that an operator can read as a timeline
// of what the router would have done on air.
package simulate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/radiogate/internal/engine"
	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/audio/memory"
	"github.com/MrWong99/radiogate/pkg/eventloop/manual"
	"github.com/MrWong99/radiogate/pkg/provider/classifier"
)

// DefaultInterval is the virtual time between two rows.
const DefaultInterval = 250 * time.Millisecond

// Step is the router state after one row was handled.
type Step struct {
	Index int
	At    time.Duration

	// Value is the sampled confidence. Valid is false when the row was
	// rejected, in which case Err holds the reason.
	Value float64
	Valid bool
	Err   error

	Mode engine.Mode

	// Transition is set when this row changed the mode.
	Transition *engine.ModeChange

	Primary   audio.ChannelState
	Secondary audio.ChannelState
}

// Options tune a run.
type Options struct {
	// Interval is the virtual time between rows. Zero means DefaultInterval.
	Interval time.Duration

	// Logger receives the core's logs. Nil discards them.
	Logger *slog.Logger
}

// Run routes every row through a fresh core configured by cfg.
func Run(cfg engine.Config, rows [][]float64, opts Options) ([]Step, error) {
	if len(rows) == 0 {
		return nil, errors.New("simulate: no score rows")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	loop := manual.New()
	tr := memory.New()
	core, err := engine.NewCore(cfg, tr, loop, engine.WithLogger(opts.Logger))
	if err != nil {
		return nil, err
	}

	var (
		cur   *Step
		steps = make([]Step, 0, len(rows))
	)
	core.OnConfidence(func(s engine.ConfidenceSample) {
		if cur != nil {
			cur.Value, cur.Valid = s.Value, true
		}
	})
	core.OnModeChange(func(ev engine.ModeChange) {
		if cur != nil {
			cur.Transition = &ev
		}
	})
	core.OnError(func(err error) {
		if cur != nil && cur.Err == nil {
			cur.Err = err
		}
	})

	ctx := context.Background()
	core.Prepare()
	if err := tr.Play(ctx, audio.Primary); err != nil {
		return nil, err
	}
	core.Activate(ctx)
	loop.Flush()

	for i, row := range rows {
		steps = append(steps, Step{Index: i, At: loop.Elapsed()})
		cur = &steps[i]

		core.HandleResult(classifier.Result{Scores: row, At: loop.Now()})
		loop.Flush()
		loop.Advance(opts.Interval)
		loop.Flush()

		cur.Mode = core.Mode()
		cur.Primary = tr.State(audio.Primary)
		cur.Secondary = tr.State(audio.Secondary)
	}
	return steps, nil
}
