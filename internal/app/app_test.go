package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/radiogate/internal/app"
	"github.com/MrWong99/radiogate/internal/config"
	"github.com/MrWong99/radiogate/internal/engine"
	"github.com/MrWong99/radiogate/internal/engine/mock"
	"github.com/MrWong99/radiogate/pkg/audio/memory"
	"github.com/MrWong99/radiogate/pkg/audio/remote"
	clfmock "github.com/MrWong99/radiogate/pkg/provider/classifier/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns the default config with a local listen address.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Providers.Classifier = config.ProviderEntry{Name: "replay"}
	cfg.Providers.Transport = config.ProviderEntry{Name: "memory"}
	return cfg
}

func newMockApp(t *testing.T, providers *app.Providers, opts ...app.Option) (*app.App, *mock.Controller, *httptest.Server) {
	t.Helper()
	ctrl := &mock.Controller{StatusResult: engine.Status{Message: engine.MessageStopped}}
	opts = append([]app.Option{app.WithController(ctrl), app.WithLogger(discardLogger())}, opts...)
	a, err := app.New(testConfig(), providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = a.Shutdown(context.Background())
	})
	return a, ctrl, srv
}

func post(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return resp, body
}

func TestNew_RealEngine(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(), &app.Providers{
		Classifier: &clfmock.Engine{},
		Transport:  memory.New(),
	}, app.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if _, ok := a.Controller().(*engine.Engine); !ok {
		t.Errorf("Controller() = %T, want *engine.Engine", a.Controller())
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := a.Controller().Start(context.Background()); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("Start after Shutdown: err = %v, want ErrClosed", err)
	}
}

func TestNew_MissingProviders(t *testing.T) {
	t.Parallel()

	if _, err := app.New(testConfig(), &app.Providers{}); err == nil {
		t.Error("New() without providers succeeded")
	}
}

func TestNew_InvalidRouter(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Router.EnterSecondary, cfg.Router.ExitSecondary = 0.2, 0.8
	_, err := app.New(cfg, &app.Providers{Classifier: &clfmock.Engine{}, Transport: memory.New()})
	if !errors.Is(err, engine.ErrInvalidThresholds) {
		t.Errorf("err = %v, want ErrInvalidThresholds", err)
	}
}

func TestControl_StartStop(t *testing.T) {
	t.Parallel()

	_, ctrl, srv := newMockApp(t, nil)

	resp, body := post(t, srv.URL+"/engine/start")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}
	st, _ := body["status"].(map[string]any)
	if st["running"] != true {
		t.Errorf("status.running = %v, want true", st["running"])
	}
	if ctrl.CallCountStart != 1 {
		t.Errorf("Start calls = %d, want 1", ctrl.CallCountStart)
	}

	resp, body = post(t, srv.URL+"/engine/stop")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}
	if _, ok := body["error"]; ok {
		t.Errorf("unexpected error field: %v", body["error"])
	}
}

func TestControl_ErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		set  func(*mock.Controller)
		want int
	}{
		{
			name: "already running",
			path: "/engine/start",
			set:  func(c *mock.Controller) { c.StartError = engine.ErrAlreadyRunning },
			want: http.StatusConflict,
		},
		{
			name: "playback blocked",
			path: "/engine/start",
			set: func(c *mock.Controller) {
				c.StartError = fmt.Errorf("engine: start: %w", engine.ErrPlaybackBlocked)
			},
			want: http.StatusConflict,
		},
		{
			name: "classifier unreachable",
			path: "/engine/start",
			set:  func(c *mock.Controller) { c.StartError = errors.New("dial refused") },
			want: http.StatusBadGateway,
		},
		{
			name: "not running",
			path: "/engine/stop",
			set:  func(c *mock.Controller) { c.StopError = engine.ErrNotRunning },
			want: http.StatusConflict,
		},
		{
			name: "closed",
			path: "/engine/stop",
			set:  func(c *mock.Controller) { c.StopError = engine.ErrClosed },
			want: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, ctrl, srv := newMockApp(t, nil)
			tc.set(ctrl)

			resp, body := post(t, srv.URL+tc.path)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			if msg, _ := body["error"].(string); msg == "" {
				t.Error("error field missing")
			}
		})
	}
}

func TestControl_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	_, _, srv := newMockApp(t, nil)
	resp, err := http.Get(srv.URL + "/engine/start")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	_, ctrl, srv := newMockApp(t, nil)
	ctrl.StatusResult = engine.Status{
		Running:           true,
		Mode:              engine.ModeSecondary,
		Confidence:        0.91,
		ConfidencePercent: 91,
		Message:           engine.MessageSubstitute,
	}

	resp, err := http.Get(srv.URL + "/engine/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body["mode"] != "secondary" {
		t.Errorf("mode = %v, want secondary", body["mode"])
	}
	if body["confidence_percent"] != float64(91) {
		t.Errorf("confidence_percent = %v, want 91", body["confidence_percent"])
	}
	if body["message"] != engine.MessageSubstitute {
		t.Errorf("message = %v", body["message"])
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) app.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev app.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %s: %v", data, err)
	}
	return ev
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func TestEvents_Stream(t *testing.T) {
	t.Parallel()

	_, ctrl, srv := newMockApp(t, nil)
	conn := dial(t, srv, "/engine/events")

	first := readEvent(t, conn)
	if first.Type != app.EventStatus || first.Status == nil || first.Status.Message != engine.MessageStopped {
		t.Fatalf("first event = %+v, want status snapshot", first)
	}

	ctrl.EmitConfidence(engine.ConfidenceSample{Value: 0.856, At: time.Now()})
	ev := readEvent(t, conn)
	if ev.Type != app.EventConfidence || ev.Percent == nil || *ev.Percent != 86 {
		t.Errorf("confidence event = %+v, want percent 86", ev)
	}

	ctrl.EmitModeChange(engine.ModeChange{
		From:   engine.ModePrimary,
		To:     engine.ModeSecondary,
		Reason: engine.ReasonThreshold,
		At:     time.Now(),
	})
	ev = readEvent(t, conn)
	if ev.Type != app.EventModeChange || ev.Mode == nil || ev.Mode.To != engine.ModeSecondary {
		t.Errorf("mode event = %+v", ev)
	}

	ctrl.EmitError(errors.New("volume write failed"))
	ev = readEvent(t, conn)
	if ev.Type != app.EventError || ev.Error != "volume write failed" {
		t.Errorf("error event = %+v", ev)
	}
}

func TestEvents_ClosedOnShutdown(t *testing.T) {
	t.Parallel()

	a, _, srv := newMockApp(t, nil)
	conn := dial(t, srv, "/engine/events")
	readEvent(t, conn)

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Errorf("close status = %v (err %v), want going away", got, err)
	}
}

func TestPlayerRoute(t *testing.T) {
	t.Parallel()

	tr := remote.New(remote.WithLogger(discardLogger()))
	_, _, srv := newMockApp(t, &app.Providers{Transport: tr})

	ready := func() int {
		resp, err := http.Get(srv.URL + "/readyz")
		if err != nil {
			t.Fatalf("GET /readyz: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if got := ready(); got != http.StatusServiceUnavailable {
		t.Errorf("readyz without player = %d, want 503", got)
	}

	dial(t, srv, "/player")
	deadline := time.Now().Add(2 * time.Second)
	for !tr.Connected() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := ready(); got != http.StatusOK {
		t.Errorf("readyz with player = %d, want 200", got)
	}
}

func TestNoPlayerRouteForMemoryTransport(t *testing.T) {
	t.Parallel()

	_, _, srv := newMockApp(t, &app.Providers{Transport: memory.New()})
	resp, err := http.Get(srv.URL + "/player")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	a, ctrl, srv := newMockApp(t, nil, app.WithLevelVar(&lv))

	prev := testConfig()
	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Router.EnterSecondary = 0.9

	// Stopped: applied at once.
	a.ApplyConfig(prev, next)
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if len(ctrl.ReconfigureCalls) != 1 || ctrl.ReconfigureCalls[0] != next.EngineConfig() {
		t.Fatalf("ReconfigureCalls = %+v", ctrl.ReconfigureCalls)
	}

	// Running: deferred until stop.
	ctrl.ReconfigureError = fmt.Errorf("engine: reconfigure: %w", engine.ErrAlreadyRunning)
	later := testConfig()
	later.Router.ExitSecondary = 0.3
	a.ApplyConfig(next, later)

	ctrl.ReconfigureError = nil
	post(t, srv.URL+"/engine/start")
	post(t, srv.URL+"/engine/stop")
	if len(ctrl.ReconfigureCalls) != 3 {
		t.Fatalf("Reconfigure calls = %d, want 3", len(ctrl.ReconfigureCalls))
	}
	if got := ctrl.ReconfigureCalls[2]; got != later.EngineConfig() {
		t.Errorf("deferred config = %+v, want %+v", got, later.EngineConfig())
	}

	// The deferred change is applied once.
	post(t, srv.URL+"/engine/start")
	post(t, srv.URL+"/engine/stop")
	if len(ctrl.ReconfigureCalls) != 3 {
		t.Errorf("Reconfigure calls = %d after second stop, want 3", len(ctrl.ReconfigureCalls))
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := app.SlogLevel(tc.in); got != tc.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	ctrl := &mock.Controller{}
	a, err := app.New(testConfig(), nil, app.WithController(ctrl), app.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if a.Addr() == nil {
		t.Fatal("Run did not start listening")
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "256.0.0.1:bad"
	a, err := app.New(cfg, nil, app.WithController(&mock.Controller{}), app.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if err := a.Run(context.Background()); err == nil {
		t.Error("Run() with a bad address succeeded")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a, _, _ := newMockApp(t, nil)
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
