package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/radiogate/internal/engine"
	"github.com/MrWong99/radiogate/internal/observe"
	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/audio/mock"
	"github.com/MrWong99/radiogate/pkg/eventloop/manual"
	"github.com/MrWong99/radiogate/pkg/provider/classifier"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const tick = 50 * time.Millisecond

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness drives a Core on a manual loop and records everything it emits.
type harness struct {
	t     *testing.T
	core  *engine.Core
	tr    *mock.Transport
	loop  *manual.Loop
	modes []engine.ModeChange
	confs []engine.ConfidenceSample
	errs  []error

	// modeAt holds the index of the sample that caused each mode change.
	modeAt []int
}

func newHarness(t *testing.T, cfg engine.Config, opts ...engine.Option) *harness {
	t.Helper()
	h := &harness{t: t, tr: &mock.Transport{}, loop: manual.New()}
	opts = append([]engine.Option{engine.WithLogger(discardLogger())}, opts...)
	core, err := engine.NewCore(cfg, h.tr, h.loop, opts...)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	h.core = core
	core.OnModeChange(func(ev engine.ModeChange) {
		h.modes = append(h.modes, ev)
		h.modeAt = append(h.modeAt, len(h.confs)-1)
	})
	core.OnConfidence(func(s engine.ConfidenceSample) { h.confs = append(h.confs, s) })
	core.OnError(func(err error) { h.errs = append(h.errs, err) })
	return h
}

// start performs the loop half of a successful Engine.Start.
func (h *harness) start() {
	h.core.Prepare()
	h.core.Activate(context.Background())
}

// feed routes one score per value and lets queued transport calls finish.
func (h *harness) feed(values ...float64) {
	for _, v := range values {
		h.core.HandleResult(classifier.Result{Scores: []float64{1 - v, v}})
		h.loop.Flush()
	}
}

// settle runs fades and queued calls to completion.
func (h *harness) settle() {
	h.loop.Advance(2 * time.Second)
	h.loop.Flush()
}

func (h *harness) errorsMatching(target error) int {
	n := 0
	for _, err := range h.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

func TestCore_SampleSequence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	for _, v := range []float64{0.1, 0.5, 0.9, 0.95, 0.3, 0.15} {
		h.feed(v)
		h.loop.Advance(tick)
	}

	if len(h.modes) != 2 {
		t.Fatalf("mode changes = %d, want 2: %+v", len(h.modes), h.modes)
	}
	if h.modeAt[0] != 2 || h.modes[0].To != engine.ModeSecondary {
		t.Errorf("first change at sample %d to %v, want sample 2 to secondary", h.modeAt[0], h.modes[0].To)
	}
	if h.modeAt[1] != 5 || h.modes[1].To != engine.ModePrimary {
		t.Errorf("second change at sample %d to %v, want sample 5 to primary", h.modeAt[1], h.modes[1].To)
	}
	for _, ev := range h.modes {
		if ev.Reason != engine.ReasonThreshold {
			t.Errorf("reason = %q, want %q", ev.Reason, engine.ReasonThreshold)
		}
	}
	if h.modes[0].Confidence != 0.9 {
		t.Errorf("entry confidence = %v, want 0.9", h.modes[0].Confidence)
	}
	if len(h.confs) != 6 {
		t.Errorf("confidence events = %d, want 6", len(h.confs))
	}
}

func TestNewCore_InvalidThresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		th   engine.Thresholds
	}{
		{name: "inverted", th: engine.Thresholds{EnterSecondary: 0.2, ExitSecondary: 0.8}},
		{name: "equal", th: engine.Thresholds{EnterSecondary: 0.5, ExitSecondary: 0.5}},
		{name: "above one", th: engine.Thresholds{EnterSecondary: 1.2, ExitSecondary: 0.2}},
		{name: "nan", th: engine.Thresholds{EnterSecondary: math.NaN(), ExitSecondary: 0.2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := engine.DefaultConfig()
			cfg.Thresholds = tc.th
			_, err := engine.NewCore(cfg, &mock.Transport{}, manual.New())
			if !errors.Is(err, engine.ErrInvalidThresholds) {
				t.Fatalf("err = %v, want ErrInvalidThresholds", err)
			}
		})
	}
}

func TestCore_EnterIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	h.feed(0.9, 0.95, 0.99, 0.9)
	h.settle()

	if len(h.modes) != 1 {
		t.Fatalf("mode changes = %d, want 1", len(h.modes))
	}
	if n := h.tr.Count(mock.OpPlay, audio.Secondary); n != 1 {
		t.Errorf("secondary play calls = %d, want 1", n)
	}
	if got := h.tr.State(audio.Secondary).Volume; got != 1 {
		t.Errorf("secondary volume = %v, want exactly 1", got)
	}
}

func TestCore_DeadBandDoesNotFlap(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	for range 50 {
		h.feed(0.5, 0.6)
		h.loop.Advance(tick)
	}
	if len(h.modes) != 0 {
		t.Errorf("mode changes = %d, want 0", len(h.modes))
	}
	if n := h.tr.Count(mock.OpPlay, audio.Secondary); n != 0 {
		t.Errorf("secondary play calls = %d, want 0", n)
	}

	// Same in secondary mode.
	h.feed(0.9)
	h.settle()
	for range 50 {
		h.feed(0.5, 0.6)
		h.loop.Advance(tick)
	}
	if len(h.modes) != 1 {
		t.Errorf("mode changes = %d, want 1", len(h.modes))
	}
}

func TestCore_EnterSecondary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	h.feed(0.9)

	if !h.tr.State(audio.Primary).Muted {
		t.Error("primary should be muted immediately on entry")
	}
	if n := h.tr.Count(mock.OpPlay, audio.Secondary); n != 1 {
		t.Fatalf("secondary play calls = %d, want 1", n)
	}
	st := h.core.Status()
	if st.Mode != engine.ModeSecondary || st.Message != engine.MessageSubstitute {
		t.Errorf("status = %v %q", st.Mode, st.Message)
	}
	if !st.Secondary.Playing {
		t.Error("status should report secondary playing once play returned")
	}
	if st.ConfidencePercent != 90 {
		t.Errorf("confidence percent = %d, want 90", st.ConfidencePercent)
	}

	h.loop.Advance(10 * tick)
	if got := h.core.Status().Secondary.Volume; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("mid-fade status volume = %v, want 0.5", got)
	}

	h.settle()
	if got := h.tr.State(audio.Secondary).Volume; got != 1 {
		t.Errorf("secondary volume = %v, want exactly 1", got)
	}
	if !h.tr.State(audio.Primary).Muted {
		t.Error("primary should stay muted in secondary mode")
	}
	if n := h.tr.Count(mock.OpPause, audio.Primary); n != 0 {
		t.Errorf("primary paused %d times, want 0", n)
	}
}

func TestCore_RevertToPrimary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	h.feed(0.9)
	h.settle()

	h.feed(0.1)
	h.loop.Advance(tick)
	if !h.tr.State(audio.Primary).Muted {
		t.Error("primary should stay muted until the fade-out completes")
	}
	if n := h.tr.Count(mock.OpPause, audio.Secondary); n != 0 {
		t.Errorf("secondary paused %d times before fade-out completed", n)
	}

	h.settle()
	if got := h.tr.State(audio.Secondary).Volume; got != 0 {
		t.Errorf("secondary volume = %v, want exactly 0", got)
	}
	if n := h.tr.Count(mock.OpPause, audio.Secondary); n != 1 {
		t.Errorf("secondary pause calls = %d, want 1", n)
	}
	primary := h.tr.State(audio.Primary)
	if primary.Muted || primary.Volume != 1 {
		t.Errorf("primary = %+v, want unmuted at volume 1", primary)
	}
	st := h.core.Status()
	if st.Mode != engine.ModePrimary || st.Secondary.Playing || st.Message != engine.MessageListening {
		t.Errorf("status = %+v", st)
	}
}

func TestCore_ReentryDuringFadeOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	h.feed(0.9)
	h.settle()

	h.feed(0.1)
	h.loop.Advance(5 * tick)
	if got := h.tr.State(audio.Secondary).Volume; math.Abs(got-0.75) > 1e-9 {
		t.Fatalf("secondary volume = %v, want 0.75", got)
	}

	before := len(h.tr.Volumes(audio.Secondary))
	h.feed(0.95)
	h.settle()

	if len(h.modes) != 3 {
		t.Fatalf("mode changes = %d, want 3", len(h.modes))
	}
	if n := h.tr.Count(mock.OpPlay, audio.Secondary); n != 1 {
		t.Errorf("secondary play calls = %d, want 1 (still playing)", n)
	}
	if n := h.tr.Count(mock.OpPause, audio.Secondary); n != 0 {
		t.Errorf("secondary paused %d times; cancelled revert must not complete", n)
	}
	vols := h.tr.Volumes(audio.Secondary)[before:]
	if len(vols) == 0 || vols[0] < 0.75 {
		t.Errorf("re-entry fade = %v, want resume upward from 0.75", vols)
	}
	if got := h.tr.State(audio.Secondary).Volume; got != 1 {
		t.Errorf("secondary volume = %v, want 1", got)
	}
	if !h.tr.State(audio.Primary).Muted {
		t.Error("primary should be muted")
	}
}

func TestCore_SecondaryPlayBlocked(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.tr.PlayErr = map[audio.Channel]error{
		audio.Secondary: &audio.PlaybackError{Channel: audio.Secondary, Blocked: true, Reason: "not allowed"},
	}
	h.start()
	h.feed(0.9)

	if h.errorsMatching(engine.ErrPlaybackBlocked) != 1 {
		t.Fatalf("errors = %v, want one ErrPlaybackBlocked", h.errs)
	}
	var perr *audio.PlaybackError
	if !errors.As(h.errs[len(h.errs)-1], &perr) || !perr.Blocked {
		t.Errorf("error %v does not carry the PlaybackError", h.errs[len(h.errs)-1])
	}
	if len(h.modes) != 2 || h.modes[1].Reason != engine.ReasonPlaybackBlocked || h.modes[1].To != engine.ModePrimary {
		t.Fatalf("modes = %+v, want entry then playback_blocked revert", h.modes)
	}

	primary := h.tr.State(audio.Primary)
	if primary.Muted || primary.Volume != 1 {
		t.Errorf("primary = %+v, want unmuted at volume 1", primary)
	}
	if got := h.tr.State(audio.Secondary).Volume; got != 0 {
		t.Errorf("secondary volume = %v, want 0", got)
	}
	if h.loop.PendingTimers() != 0 {
		t.Errorf("pending timers = %d, want 0", h.loop.PendingTimers())
	}
	st := h.core.Status()
	if !st.Halted || st.Message != engine.MessageAllowAudio || st.Mode != engine.ModePrimary {
		t.Errorf("status = %+v", st)
	}

	// Halted: no retry, no transitions.
	h.feed(0.1, 0.95)
	h.settle()
	if len(h.modes) != 2 {
		t.Errorf("mode changes after halt = %d, want 2", len(h.modes))
	}
	if n := h.tr.Count(mock.OpPlay, audio.Secondary); n != 1 {
		t.Errorf("secondary play calls = %d, want 1", n)
	}

	// A fresh start clears the halt.
	h.core.Quiesce()
	h.core.Reset()
	h.tr.PlayErr = nil
	h.start()
	h.feed(0.9)
	if st := h.core.Status(); st.Halted || st.Mode != engine.ModeSecondary {
		t.Errorf("status after restart = %+v", st)
	}
}

func TestCore_StopMidFade(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	h.feed(0.9)
	h.loop.Advance(4 * tick)

	h.core.Quiesce()
	n := len(h.tr.Volumes(audio.Secondary))
	h.loop.Advance(5 * time.Second)
	if got := len(h.tr.Volumes(audio.Secondary)); got != n {
		t.Errorf("volume writes after stop = %d, want 0", got-n)
	}
	if h.loop.PendingTimers() != 0 {
		t.Errorf("pending timers = %d, want 0", h.loop.PendingTimers())
	}

	h.core.Reset()
	last := h.modes[len(h.modes)-1]
	if last.To != engine.ModePrimary || last.Reason != engine.ReasonStopped {
		t.Errorf("last change = %+v, want stopped revert to primary", last)
	}
	st := h.core.Status()
	if st.Running || st.Mode != engine.ModePrimary || st.Message != engine.MessageStopped {
		t.Errorf("status = %+v", st)
	}

	// Results after stop are ignored.
	h.feed(0.1, 0.9)
	if len(h.confs) != 1 {
		t.Errorf("confidence events = %d, want 1", len(h.confs))
	}
}

func TestCore_ResetUnmutesPrimary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	h.feed(0.9)
	h.settle()
	if !h.tr.State(audio.Primary).Muted {
		t.Fatal("primary not muted in secondary mode")
	}

	h.core.Quiesce()
	h.core.Reset()
	if got := h.tr.State(audio.Primary); got.Muted {
		t.Errorf("primary after stop = %+v, want unmuted", got)
	}
	if st := h.core.Status(); st.Primary.Muted || st.Mode != engine.ModePrimary {
		t.Errorf("status after stop = %+v", st)
	}
}

func TestCore_StaleCompletionIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.tr.PlayErr = map[audio.Channel]error{
		audio.Secondary: &audio.PlaybackError{Channel: audio.Secondary, Blocked: true},
	}
	h.start()
	h.core.HandleResult(classifier.Result{Scores: []float64{0, 0.9}})
	h.core.Quiesce()
	h.loop.Flush()

	if h.errorsMatching(engine.ErrPlaybackBlocked) != 0 {
		t.Errorf("completion of a play issued before stop was reported: %v", h.errs)
	}
	if h.core.Status().Halted {
		t.Error("stale completion halted the core")
	}
}

func TestCore_InvalidSamples(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	h.feed(0.4)

	for _, r := range []classifier.Result{
		{Scores: []float64{0.5}},
		{Scores: []float64{0, math.NaN()}},
		{Scores: []float64{0, 1.5}},
		{},
	} {
		h.core.HandleResult(r)
	}

	if n := h.errorsMatching(engine.ErrInvalidSample); n != 4 {
		t.Errorf("invalid sample errors = %d, want 4", n)
	}
	if len(h.confs) != 1 {
		t.Errorf("confidence events = %d, want 1", len(h.confs))
	}
	if st := h.core.Status(); st.Confidence != 0.4 || st.Mode != engine.ModePrimary {
		t.Errorf("status = %+v, want last good sample kept", st)
	}
}

func TestCore_ClassifierLost(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	h.feed(0.9)
	h.settle()

	h.core.ClassifierLost(errors.New("socket closed"))
	h.settle()

	last := h.modes[len(h.modes)-1]
	if last.Reason != engine.ReasonClassifierLost || last.To != engine.ModePrimary {
		t.Errorf("last change = %+v, want classifier_lost revert", last)
	}
	if n := h.tr.Count(mock.OpPause, audio.Secondary); n != 1 {
		t.Errorf("secondary pause calls = %d, want 1", n)
	}
	primary := h.tr.State(audio.Primary)
	if primary.Muted || primary.Volume != 1 {
		t.Errorf("primary = %+v, want unmuted at volume 1", primary)
	}
	st := h.core.Status()
	if !st.Halted || st.Message != engine.MessageClassifierLost {
		t.Errorf("status = %+v", st)
	}

	h.feed(0.95)
	if len(h.modes) != 2 {
		t.Errorf("halted core changed mode: %+v", h.modes)
	}
}

func TestCore_IgnoresResultsWhileStopped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.feed(0.99)
	if len(h.confs) != 0 || len(h.modes) != 0 {
		t.Errorf("stopped core routed a result")
	}
	if h.core.Running() {
		t.Error("Running() = true before Activate")
	}
}

func TestCore_PrepareSetsStartState(t *testing.T) {
	t.Parallel()

	cfg := engine.DefaultConfig()
	cfg.PrimarySource = "https://stream.example/live"
	cfg.SecondarySource = "file:///srv/fill.mp3"
	h := newHarness(t, cfg)
	h.core.Prepare()

	if got := h.tr.State(audio.Primary); got.Source != cfg.PrimarySource || got.Volume != 1 || got.Muted {
		t.Errorf("primary = %+v", got)
	}
	if got := h.tr.State(audio.Secondary); got.Source != cfg.SecondarySource || got.Volume != 0 || got.Muted {
		t.Errorf("secondary = %+v", got)
	}
}

func TestCore_Reconfigure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	cfg := engine.DefaultConfig()
	cfg.Thresholds = engine.Thresholds{EnterSecondary: 0.6, ExitSecondary: 0.4}
	if err := h.core.Reconfigure(cfg); !errors.Is(err, engine.ErrAlreadyRunning) {
		t.Fatalf("Reconfigure while running: err = %v, want ErrAlreadyRunning", err)
	}

	h.core.Quiesce()
	h.core.Reset()
	bad := cfg
	bad.Thresholds = engine.Thresholds{EnterSecondary: 0.2, ExitSecondary: 0.8}
	if err := h.core.Reconfigure(bad); !errors.Is(err, engine.ErrInvalidThresholds) {
		t.Fatalf("err = %v, want ErrInvalidThresholds", err)
	}
	if err := h.core.Reconfigure(cfg); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if h.core.Status().Thresholds != cfg.Thresholds {
		t.Errorf("status thresholds = %+v", h.core.Status().Thresholds)
	}

	h.start()
	h.feed(0.7)
	if len(h.modes) != 1 || h.modes[0].To != engine.ModeSecondary {
		t.Errorf("modes = %+v, want entry at 0.7 with new thresholds", h.modes)
	}
}

func TestCore_VolumeErrorsReportedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, engine.DefaultConfig())
	h.start()
	h.tr.VolumeErr = errors.New("player gone")
	h.feed(0.9)
	h.settle()

	var n int
	for _, err := range h.errs {
		var terr *engine.TransportError
		if errors.As(err, &terr) && terr.Op == "volume" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("volume errors = %d, want 1", n)
	}
	if got := h.core.Status().Secondary.Volume; got != 1 {
		t.Errorf("tracked volume = %v, want 1 despite failures", got)
	}
}

func TestCore_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := newHarness(t, engine.DefaultConfig(), engine.WithMetrics(m))
	h.start()
	h.feed(0.9)
	h.settle()
	h.feed(0.1)
	h.settle()
	h.core.HandleResult(classifier.Result{})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			got[met.Name] = true
			if met.Name == "radiogate.mode.transitions" {
				sum := met.Data.(metricdata.Sum[int64])
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				if total != 2 {
					t.Errorf("transitions = %d, want 2", total)
				}
			}
		}
	}
	for _, name := range []string{
		"radiogate.confidence",
		"radiogate.samples.invalid",
		"radiogate.mode.transitions",
		"radiogate.fade.duration",
	} {
		if !got[name] {
			t.Errorf("metric %q not recorded", name)
		}
	}
}
