// Package app wires the radiogate subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the router from the
// configured providers, Run serves the HTTP control surface until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject a mock controller via [WithController]. When it is not
// provided, New creates a real [engine.Engine] from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/radiogate/internal/config"
	"github.com/MrWong99/radiogate/internal/engine"
	"github.com/MrWong99/radiogate/internal/health"
	"github.com/MrWong99/radiogate/internal/observe"
	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/provider/classifier"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Providers holds the two provider slots. Populated by main.go via the
// config registry.
type Providers struct {
	Classifier classifier.Engine
	Transport  audio.Transport
}

// playerEndpoint is implemented by transports that players attach to over
// HTTP, such as pkg/audio/remote.
type playerEndpoint interface {
	Handler() http.Handler
	Connected() bool
}

// App owns all subsystem lifetimes and serves the router control surface.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	ctrl           engine.Controller
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	hub            *hub
	handler        http.Handler

	// pending holds a router config deferred until the engine stops.
	pendingMu sync.Mutex
	pending   *engine.Config

	addrMu sync.Mutex
	addr   net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithController injects a router instead of creating an [engine.Engine].
func WithController(c engine.Controller) Option {
	return func(a *App) { a.ctrl = c }
}

// WithMetrics records routing and HTTP metrics to m and serves h on
// /metrics. h may be nil.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = h
	}
}

// WithLevelVar lets hot reload change the level of the process logger.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// New creates an App. Unless a controller is injected, providers must carry
// both a classifier and a transport.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.ctrl == nil {
		eng, err := engine.New(cfg.EngineConfig(), providers.Transport, providers.Classifier,
			engine.WithLogger(a.log.With(slog.String("component", "engine"))),
			engine.WithMetrics(a.metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("app: init engine: %w", err)
		}
		a.ctrl = eng
		a.closers = append(a.closers, eng.Close)
	}

	a.hub = newHub(a.ctrl.Status, cfg.Server.AllowedOrigins, a.log.With(slog.String("component", "events")))
	a.hub.attach(a.ctrl)
	a.ctrl.OnModeChange(func(ev engine.ModeChange) {
		a.log.Info("mode changed",
			slog.String("from", ev.From.String()),
			slog.String("to", ev.To.String()),
			slog.String("reason", ev.Reason),
			slog.Float64("confidence", ev.Confidence),
		)
	})
	a.ctrl.OnError(func(err error) {
		a.log.Warn("router error", slog.Any("err", err))
	})

	a.handler = a.routes()
	return a, nil
}

// routes builds the HTTP surface.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /engine/start", a.handleStart)
	mux.HandleFunc("POST /engine/stop", a.handleStop)
	mux.HandleFunc("GET /engine/status", a.handleStatus)
	mux.Handle("GET /engine/events", a.hub)

	checkers := []health.Checker{health.Router(a.ctrl)}
	if p, ok := a.providers.Transport.(playerEndpoint); ok {
		mux.Handle("GET /player", p.Handler())
		checkers = append(checkers, health.Player(p))
	}
	health.New(checkers).Register(mux)

	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}

	return observe.Middleware(a.metrics,
		observe.WithRequestLogger(a.log.With(slog.String("component", "http"))),
		observe.WithQuietPaths("/healthz", "/readyz", "/metrics", "/engine/status"),
	)(mux)
}

// Handler returns the HTTP handler serving all routes.
func (a *App) Handler() http.Handler { return a.handler }

// Controller returns the router the App drives.
func (a *App) Controller() engine.Controller { return a.ctrl }

// Addr returns the address Run is listening on, or nil before it listens.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control surface on cfg.Server.ListenAddr and blocks until
// ctx is cancelled or the server fails. A cancelled ctx is a clean exit and
// returns nil.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Observers hold long-lived connections that Shutdown does not wait out.
		a.hub.close()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	a.log.Info("http server listening", slog.String("addr", ln.Addr().String()))
	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next. It is the callback
// for [config.NewWatcher]. A router change is applied at once to a stopped
// router and deferred until the next stop otherwise.
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", slog.String("level", string(d.NewLogLevel)))
	}

	if d.RouterChanged {
		rc := next.EngineConfig()
		err := a.ctrl.Reconfigure(rc)
		switch {
		case err == nil:
			a.clearPending()
			a.log.Info("router config applied",
				slog.Float64("enter_secondary", rc.Thresholds.EnterSecondary),
				slog.Float64("exit_secondary", rc.Thresholds.ExitSecondary),
			)
		case errors.Is(err, engine.ErrAlreadyRunning):
			a.pendingMu.Lock()
			a.pending = &rc
			a.pendingMu.Unlock()
			a.log.Info("router config change deferred until stop")
		default:
			a.log.Warn("router config rejected", slog.Any("err", err))
		}
	}

	for _, key := range d.RestartRequired {
		a.log.Warn("config change requires restart", slog.String("key", key))
	}
}

// applyPending applies a deferred router config after a stop.
func (a *App) applyPending() {
	a.pendingMu.Lock()
	rc := a.pending
	a.pending = nil
	a.pendingMu.Unlock()
	if rc == nil {
		return
	}
	if err := a.ctrl.Reconfigure(*rc); err != nil {
		a.log.Warn("deferred router config rejected", slog.Any("err", err))
		return
	}
	a.log.Info("deferred router config applied")
}

func (a *App) clearPending() {
	a.pendingMu.Lock()
	a.pending = nil
	a.pendingMu.Unlock()
}

// SlogLevel maps a config level to its slog level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", slog.Int("closers", len(a.closers)))
		a.hub.close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", slog.Int("remaining", len(a.closers)-i))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", slog.Int("index", i), slog.Any("err", err))
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
