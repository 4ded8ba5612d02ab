package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/radiogate/internal/observe"
	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/audio/crossfade"
	"github.com/MrWong99/radiogate/pkg/eventloop"
	"github.com/MrWong99/radiogate/pkg/provider/classifier"
)

// Operator-facing status messages.
const (
	MessageStopped        = "stopped"
	MessageListening      = "listening"
	MessageSubstitute     = "substitute playing"
	MessageAllowAudio     = "audio playback blocked: allow audio in the player and restart"
	MessageClassifierLost = "classifier disconnected"
)

// Config is the routing configuration.
type Config struct {
	// Thresholds is the hysteresis pair of the mode controller.
	Thresholds Thresholds

	// ClassIndex is the score slot read from every classifier result.
	ClassIndex int

	// StepSize is the volume delta applied per fade tick, in (0, 1].
	StepSize float64

	// TickInterval is the delay between fade ticks.
	TickInterval time.Duration

	// PrimarySource and SecondarySource are assigned to the channels on
	// every start. Empty leaves the player's current source untouched.
	PrimarySource   string
	SecondarySource string

	// Listen is forwarded to the classifier on every start.
	Listen classifier.Config
}

// DefaultConfig returns the default routing configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:   DefaultThresholds(),
		ClassIndex:   DefaultClassIndex,
		StepSize:     crossfade.DefaultStepSize,
		TickInterval: crossfade.DefaultStepInterval,
		Listen:       classifier.Config{}.WithDefaults(),
	}
}

// Validate reports every problem with c. Threshold problems match
// [ErrInvalidThresholds] under errors.Is.
func (c Config) Validate() error {
	var errs []error
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ClassIndex < 0 {
		errs = append(errs, fmt.Errorf("engine: class index %d must not be negative", c.ClassIndex))
	}
	if !(c.StepSize > 0 && c.StepSize <= 1) {
		errs = append(errs, fmt.Errorf("engine: step size %v out of range (0, 1]", c.StepSize))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("engine: tick interval %v must be positive", c.TickInterval))
	}
	if err := c.Listen.WithDefaults().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Status is a point-in-time view of the router.
type Status struct {
	Running           bool               `json:"running"`
	Halted            bool               `json:"halted"`
	Mode              Mode               `json:"mode"`
	Confidence        float64            `json:"confidence"`
	ConfidencePercent int                `json:"confidence_percent"`
	LastSampleAt      time.Time          `json:"last_sample_at,omitzero"`
	Message           string             `json:"message"`
	Thresholds        Thresholds         `json:"thresholds"`
	Primary           audio.ChannelState `json:"primary"`
	Secondary         audio.ChannelState `json:"secondary"`
}

// blockingOp is a transport call that may block. Ops run one at a time off
// the loop so the player sees them in issue order.
type blockingOp struct {
	run  func(ctx context.Context) error
	done func(error)
}

// Core is the routing core: sampler, mode controller and crossfade
// scheduler wired to one transport.
//
// Every method except the listener registrations and [Core.Status] must be
// called on the goroutine that runs sched's callbacks. [Engine] does that
// with a real event loop; tests and the simulator drive a Core directly on
// an eventloop/manual loop.
type Core struct {
	cfg   Config
	tr    audio.Transport
	sched eventloop.Scheduler
	log   *slog.Logger
	met   *observe.Metrics

	sampler *Sampler
	ctl     *ModeController
	fader   *crossfade.Scheduler

	ctx        context.Context
	running    bool
	halted     bool
	secPlaying bool // a play of the secondary was issued and not undone
	gen        uint64
	channels   [len(audio.Channels)]audio.ChannelState
	volFailing [len(audio.Channels)]bool
	message    string

	ops    []blockingOp
	opBusy bool

	lmu     sync.Mutex
	modeFns []func(ModeChange)
	confFns []func(ConfidenceSample)
	errFns  []func(error)

	smu  sync.Mutex
	snap Status
}

// NewCore validates cfg and returns a stopped Core.
func NewCore(cfg Config, tr audio.Transport, sched eventloop.Scheduler, opts ...Option) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	c := &Core{
		tr:      tr,
		sched:   sched,
		log:     o.logger,
		met:     o.metrics,
		ctx:     context.Background(),
		message: MessageStopped,
	}
	c.configure(cfg)
	c.publish()
	return c, nil
}

func (c *Core) configure(cfg Config) {
	cfg.Listen = cfg.Listen.WithDefaults()
	c.cfg = cfg
	c.sampler = NewSampler(cfg.ClassIndex)
	c.ctl = &ModeController{th: cfg.Thresholds}
	c.fader = crossfade.New(volumeSink{c}, c.sched,
		crossfade.WithStepSize(cfg.StepSize),
		crossfade.WithStepInterval(cfg.TickInterval),
		crossfade.WithErrorHandler(c.volumeFailed),
		crossfade.WithCompletionHook(c.fadeCompleted),
	)
}

// Config returns the active configuration.
func (c *Core) Config() Config { return c.cfg }

// Mode returns the current mode.
func (c *Core) Mode() Mode { return c.ctl.Mode() }

// Running reports whether results are being routed.
func (c *Core) Running() bool { return c.running }

// Reconfigure replaces the configuration of a stopped Core.
func (c *Core) Reconfigure(cfg Config) error {
	if c.running {
		return fmt.Errorf("engine: reconfigure: %w", ErrAlreadyRunning)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.fader.CancelAll()
	c.configure(cfg)
	c.publish()
	return nil
}

// OnModeChange registers fn to run on every mode transition. Listeners run
// on the loop goroutine in registration order and must not block.
func (c *Core) OnModeChange(fn func(ModeChange)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.modeFns = append(c.modeFns, fn)
}

// OnConfidence registers fn to run on every accepted sample.
func (c *Core) OnConfidence(fn func(ConfidenceSample)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.confFns = append(c.confFns, fn)
}

// OnError registers fn to receive recoverable errors: invalid samples,
// refused plays, transport failures and a lost classifier.
func (c *Core) OnError(fn func(error)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.errFns = append(c.errFns, fn)
}

// Status returns the last published snapshot. Safe for concurrent use.
func (c *Core) Status() Status {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.snap
}

// ---- lifecycle ----

// Prepare puts both channels into their start state: sources assigned,
// primary unmuted at full volume, secondary silent, mode primary. It is the
// first step of a start and runs before the primary is played.
func (c *Core) Prepare() {
	c.abandon()
	c.ctl.Force(ModePrimary)
	c.halted = false
	c.secPlaying = false

	sources := [len(audio.Channels)]string{c.cfg.PrimarySource, c.cfg.SecondarySource}
	for _, ch := range audio.Channels {
		if sources[ch] == "" {
			continue
		}
		c.channels[ch].Source = sources[ch]
		if err := c.tr.SetSource(ch, sources[ch]); err != nil {
			c.transportFailed("source", ch, err)
		}
	}
	c.setMuted(audio.Primary, false)
	c.setMuted(audio.Secondary, false)
	c.fader.SetVolume(audio.Primary, 1)
	c.fader.SetVolume(audio.Secondary, 0)
	c.publish()
}

// Activate starts routing classifier results. The primary is expected to be
// playing already. ctx bounds the blocking transport calls issued while
// running.
func (c *Core) Activate(ctx context.Context) {
	c.ctx = ctx
	c.running = true
	c.halted = false
	c.channels[audio.Primary].Playing = true
	c.message = MessageListening
	c.log.Info("routing started",
		slog.Float64("enter_secondary", c.cfg.Thresholds.EnterSecondary),
		slog.Float64("exit_secondary", c.cfg.Thresholds.ExitSecondary),
		slog.Int("class_index", c.cfg.ClassIndex),
	)
	c.publish()
}

// StartFailed records that the primary could not be played. It returns the
// error Start should report, which wraps [ErrPlaybackBlocked].
func (c *Core) StartFailed(err error) error {
	c.halted = true
	c.message = MessageAllowAudio
	if c.met != nil {
		c.met.RecordPlaybackBlocked(c.ctx, audio.Primary.String())
	}
	wrapped := fmt.Errorf("%w: %w", ErrPlaybackBlocked, err)
	c.log.Warn("primary playback refused", slog.Any("err", err))
	c.emitError(wrapped)
	c.publish()
	return wrapped
}

// Quiesce stops routing: every fade is cancelled, queued transport calls are
// dropped and later results are ignored. It is the first step of a stop.
func (c *Core) Quiesce() {
	c.running = false
	c.abandon()
	c.publish()
}

// Reset is the last step of a stop, after both channels were paused. The
// mode returns to primary, emitting a change if it was secondary, and the
// primary is left unmuted.
func (c *Core) Reset() {
	c.running = false
	c.abandon()
	for _, ch := range audio.Channels {
		c.channels[ch].Playing = false
	}
	c.setMuted(audio.Primary, false)
	c.secPlaying = false
	c.halted = false
	c.force(ModePrimary, ReasonStopped)
	c.message = MessageStopped
	c.ctx = context.Background()
	c.publish()
}

// abandon cancels fades and invalidates pending transport completions.
func (c *Core) abandon() {
	c.fader.CancelAll()
	c.gen++
	c.ops = nil
}

// ---- routing ----

// HandleResult routes one classifier result. Results are ignored while the
// core is stopped or halted.
func (c *Core) HandleResult(r classifier.Result) {
	if !c.running || c.halted {
		return
	}
	s, err := c.sampler.Sample(r, c.sched.Now())
	if err != nil {
		c.log.Warn("dropping classifier result", slog.Any("err", err))
		if c.met != nil {
			c.met.RecordInvalidSample(c.ctx)
		}
		c.emitError(err)
		return
	}
	if c.met != nil {
		c.met.RecordConfidence(c.ctx, s.Value)
	}
	c.emitConfidence(s)

	if to, changed := c.ctl.Observe(s.Value); changed {
		from := ModePrimary
		if to == ModePrimary {
			from = ModeSecondary
		}
		c.emitMode(from, to, ReasonThreshold, s.Value)
		if to == ModeSecondary {
			c.enterSecondary()
		} else {
			c.leaveSecondary()
		}
	}
	c.publish()
}

// ClassifierLost handles the classifier stream ending with err while
// running. The router falls back to the primary and halts.
func (c *Core) ClassifierLost(err error) {
	if !c.running || c.halted {
		return
	}
	c.log.Error("classifier stream ended", slog.Any("err", err))
	c.emitError(fmt.Errorf("engine: classifier: %w", err))
	c.halted = true
	if c.ctl.Mode() == ModeSecondary {
		c.force(ModePrimary, ReasonClassifierLost)
		c.leaveSecondary()
	}
	c.message = MessageClassifierLost
	c.publish()
}

func (c *Core) enterSecondary() {
	// Cancels a revert fade still in flight; its completion never runs and
	// the new fade resumes from the current volume.
	c.fader.Cancel(audio.Secondary)
	c.setMuted(audio.Primary, true)
	if !c.secPlaying {
		c.fader.SetVolume(audio.Secondary, 0)
		c.secPlaying = true
		c.enqueue(blockingOp{
			run:  func(ctx context.Context) error { return c.tr.Play(ctx, audio.Secondary) },
			done: c.playFinished,
		})
	}
	c.fader.Fade(audio.Secondary, 1, nil)
	c.message = MessageSubstitute
}

func (c *Core) leaveSecondary() {
	c.fader.Fade(audio.Secondary, 0, c.revertFinished)
	if !c.halted {
		c.message = MessageListening
	}
}

func (c *Core) revertFinished() {
	c.secPlaying = false
	c.enqueue(blockingOp{
		run: func(ctx context.Context) error { return c.tr.Pause(ctx, audio.Secondary) },
		done: func(err error) {
			if err != nil {
				c.transportFailed("pause", audio.Secondary, err)
				return
			}
			c.channels[audio.Secondary].Playing = false
			c.publish()
		},
	})
	c.setMuted(audio.Primary, false)
	c.fader.SetVolume(audio.Primary, 1)
	c.publish()
}

func (c *Core) playFinished(err error) {
	if err != nil {
		c.playbackBlocked(err)
		return
	}
	c.channels[audio.Secondary].Playing = true
	c.publish()
}

// playbackBlocked recovers from a refused play of the secondary: primary
// audible, secondary silent, mode primary, no retry.
func (c *Core) playbackBlocked(err error) {
	c.abandon()
	c.halted = true
	c.secPlaying = false
	c.setMuted(audio.Primary, false)
	c.fader.SetVolume(audio.Primary, 1)
	c.fader.SetVolume(audio.Secondary, 0)
	c.force(ModePrimary, ReasonPlaybackBlocked)
	c.message = MessageAllowAudio
	if c.met != nil {
		c.met.RecordPlaybackBlocked(c.ctx, audio.Secondary.String())
	}
	c.log.Warn("secondary playback refused, routing halted", slog.Any("err", err))
	c.emitError(fmt.Errorf("%w: %w", ErrPlaybackBlocked, err))
	c.publish()
}

// ---- transport plumbing ----

func (c *Core) enqueue(op blockingOp) {
	c.ops = append(c.ops, op)
	c.nextOp()
}

func (c *Core) nextOp() {
	if c.opBusy || len(c.ops) == 0 {
		return
	}
	op := c.ops[0]
	c.ops = c.ops[1:]
	c.opBusy = true
	ctx, gen := c.ctx, c.gen
	c.sched.Go(func() error { return op.run(ctx) }, func(err error) {
		c.opBusy = false
		if gen == c.gen {
			op.done(err)
		}
		c.nextOp()
	})
}

func (c *Core) setMuted(ch audio.Channel, muted bool) {
	c.channels[ch].Muted = muted
	if err := c.tr.SetMuted(ch, muted); err != nil {
		c.transportFailed("mute", ch, err)
	}
}

// volumeSink records fader output before forwarding it to the transport.
type volumeSink struct{ c *Core }

func (v volumeSink) SetVolume(ch audio.Channel, volume float64) error {
	c := v.c
	c.channels[ch].Volume = volume
	err := c.tr.SetVolume(ch, volume)
	if err == nil {
		c.volFailing[ch] = false
	}
	c.publish()
	return err
}

// volumeFailed reports the first of a run of failing volume writes.
func (c *Core) volumeFailed(ch audio.Channel, err error) {
	if c.volFailing[ch] {
		return
	}
	c.volFailing[ch] = true
	c.transportFailed("volume", ch, err)
}

func (c *Core) transportFailed(op string, ch audio.Channel, err error) {
	c.log.Warn("transport command failed",
		slog.String("op", op),
		slog.String("channel", ch.String()),
		slog.Any("err", err),
	)
	if c.met != nil {
		c.met.RecordTransportError(c.ctx, op, ch.String())
	}
	c.emitError(&TransportError{Op: op, Channel: ch, Err: err})
}

func (c *Core) fadeCompleted(t *crossfade.Task, elapsed time.Duration) {
	if c.met == nil {
		return
	}
	dir := "down"
	if t.TargetVolume > t.StartVolume {
		dir = "up"
	}
	c.met.RecordFade(c.ctx, t.Channel.String(), dir, elapsed)
}

// ---- events ----

func (c *Core) force(to Mode, reason string) {
	if from := c.ctl.Force(to); from != to {
		c.emitMode(from, to, reason, 0)
	}
}

func (c *Core) emitMode(from, to Mode, reason string, confidence float64) {
	ev := ModeChange{From: from, To: to, Reason: reason, At: c.sched.Now(), Confidence: confidence}
	c.log.Info("mode changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason),
		slog.Float64("confidence", confidence),
	)
	if c.met != nil {
		c.met.RecordTransition(c.ctx, from.String(), to.String(), reason)
	}
	c.lmu.Lock()
	fns := slices.Clone(c.modeFns)
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Core) emitConfidence(s ConfidenceSample) {
	c.lmu.Lock()
	fns := slices.Clone(c.confFns)
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *Core) emitError(err error) {
	c.lmu.Lock()
	fns := slices.Clone(c.errFns)
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (c *Core) publish() {
	st := Status{
		Running:    c.running,
		Halted:     c.halted,
		Mode:       c.ctl.Mode(),
		Message:    c.message,
		Thresholds: c.cfg.Thresholds,
		Primary:    c.channels[audio.Primary],
		Secondary:  c.channels[audio.Secondary],
	}
	if s, ok := c.sampler.Last(); ok {
		st.Confidence = s.Value
		st.ConfidencePercent = s.Percent()
		st.LastSampleAt = s.At
	}
	c.smu.Lock()
	c.snap = st
	c.smu.Unlock()
}
