package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/radiogate/internal/app"
	"github.com/MrWong99/radiogate/internal/config"
	"github.com/MrWong99/radiogate/internal/observe"
)

const shutdownGrace = 15 * time.Second

func newServeCommand(configPath *string) *cobra.Command {
	var (
		watch     bool
		autostart bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the router and its HTTP control surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath, serveOptions{
				watch:     watch,
				autostart: autostart,
				out:       cmd.OutOrStdout(),
				logOut:    os.Stderr,
			})
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "Reload log level and router settings when the config file changes")
	cmd.Flags().BoolVar(&autostart, "autostart", false, "Start routing immediately instead of waiting for POST /engine/start")
	return cmd
}

type serveOptions struct {
	watch     bool
	autostart bool
	out       io.Writer
	logOut    io.Writer
}

func serve(ctx context.Context, configPath string, opts serveOptions) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found: copy configs/example.yaml to get started", configPath)
		}
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := newLogger(opts.logOut, &level, cfg.Server.LogFormat)
	slog.SetDefault(logger)

	logger.Info("radiogate starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "radiogate"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg, logger)
	providers, err := buildProviders(cfg, reg, logger)
	if err != nil {
		return err
	}

	application, err := app.New(cfg, providers,
		app.WithLogger(logger),
		app.WithLevelVar(&level),
		app.WithMetrics(metrics, tel.Handler()),
	)
	if err != nil {
		return err
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if opts.watch {
		w, err := config.NewWatcher(configPath, application.ApplyConfig)
		if err != nil {
			logger.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(opts.out, cfg)

	if opts.autostart {
		if err := application.Controller().Start(ctx); err != nil {
			logger.Warn("autostart failed, waiting for POST /engine/start", "err", err)
		}
	}

	logger.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr == nil {
		logger.Info("goodbye")
	}
	return runErr
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	secondary := cfg.Channels.Secondary.Source
	if secondary == "" {
		secondary = "(player default)"
	}
	fmt.Fprintln(w, renderKeyValues("radiogate startup summary", [][2]string{
		{"Classifier", providerLabel(cfg.Providers.Classifier)},
		{"Transport", providerLabel(cfg.Providers.Transport)},
		{"Enter / exit", fmt.Sprintf("%.2f / %.2f", cfg.Router.EnterSecondary, cfg.Router.ExitSecondary)},
		{"Fade", fmt.Sprintf("%.2f every %v", cfg.Router.StepSize, cfg.Router.TickInterval())},
		{"Substitute", secondary},
		{"Listen addr", cfg.Server.ListenAddr},
	}))
}

func providerLabel(e config.ProviderEntry) string {
	if e.BaseURL != "" {
		return e.Name + " / " + e.BaseURL
	}
	return e.Name
}
