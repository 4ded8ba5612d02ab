package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/radiogate/internal/app"
	"github.com/MrWong99/radiogate/internal/config"
	"github.com/MrWong99/radiogate/internal/resilience"
	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/audio/memory"
	audioremote "github.com/MrWong99/radiogate/pkg/audio/remote"
	"github.com/MrWong99/radiogate/pkg/provider/classifier"
	clfremote "github.com/MrWong99/radiogate/pkg/provider/classifier/remote"
	"github.com/MrWong99/radiogate/pkg/provider/classifier/replay"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config, log *slog.Logger) {
	// ── Classifier ────────────────────────────────────────────────────────────

	// remote listens on a classifier service. options.fallback_urls lists
	// further endpoints tried in order when one refuses a session.
	reg.RegisterClassifier("remote", func(entry config.ProviderEntry) (classifier.Engine, error) {
		var opts []clfremote.Option
		if entry.APIKey != "" {
			opts = append(opts, clfremote.WithAPIKey(entry.APIKey))
		}
		if n := optInt(entry.Options, "buffer"); n > 0 {
			opts = append(opts, clfremote.WithBuffer(n))
		}
		primary, err := clfremote.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		fallbacks := optStrings(entry.Options, "fallback_urls")
		if len(fallbacks) == 0 {
			return primary, nil
		}

		f := resilience.NewClassifierFailover(primary.URL(), primary, resilience.BreakerConfig{
			MaxFailures: optInt(entry.Options, "max_failures"),
			Cooldown:    time.Duration(optInt(entry.Options, "cooldown_ms")) * time.Millisecond,
			Logger:      log.With(slog.String("component", "classifier")),
		})
		for _, u := range fallbacks {
			p, err := clfremote.New(u, opts...)
			if err != nil {
				return nil, fmt.Errorf("fallback %q: %w", u, err)
			}
			f.AddFallback(p.URL(), p)
		}
		return f, nil
	})

	// replay feeds recorded scores from a file, for rehearsals without a
	// classifier service.
	reg.RegisterClassifier("replay", func(entry config.ProviderEntry) (classifier.Engine, error) {
		path := optString(entry.Options, "path")
		if path == "" {
			return nil, errors.New("replay classifier requires options.path")
		}
		var opts []replay.Option
		if ms := optInt(entry.Options, "interval_ms"); ms > 0 {
			opts = append(opts, replay.WithInterval(time.Duration(ms)*time.Millisecond))
		}
		if optBool(entry.Options, "loop") {
			opts = append(opts, replay.WithLoop(true))
		}
		return replay.Open(path, opts...)
	})

	// ── Transport ─────────────────────────────────────────────────────────────

	reg.RegisterTransport("remote", func(entry config.ProviderEntry) (audio.Transport, error) {
		opts := []audioremote.Option{
			audioremote.WithOriginPatterns(cfg.Server.AllowedOrigins...),
			audioremote.WithLogger(log.With(slog.String("component", "player"))),
		}
		if ms := optInt(entry.Options, "ack_timeout_ms"); ms > 0 {
			opts = append(opts, audioremote.WithAckTimeout(time.Duration(ms)*time.Millisecond))
		}
		if n := optInt(entry.Options, "queue_size"); n > 0 {
			opts = append(opts, audioremote.WithQueueSize(n))
		}
		return audioremote.New(opts...), nil
	})

	// memory drives no audio at all; the router runs against recorded state.
	reg.RegisterTransport("memory", func(config.ProviderEntry) (audio.Transport, error) {
		return memory.New(), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			log.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates both providers named in cfg using the
// registry. Both are required.
func buildProviders(cfg *config.Config, reg *config.Registry, log *slog.Logger) (*app.Providers, error) {
	clf, err := reg.CreateClassifier(cfg.Providers.Classifier)
	if err != nil {
		return nil, fmt.Errorf("create classifier provider %q: %w", cfg.Providers.Classifier.Name, err)
	}
	log.Info("provider created", "kind", "classifier", "name", cfg.Providers.Classifier.Name)

	tr, err := reg.CreateTransport(cfg.Providers.Transport)
	if err != nil {
		return nil, fmt.Errorf("create transport provider %q: %w", cfg.Providers.Transport.Name, err)
	}
	log.Info("provider created", "kind", "transport", "name", cfg.Providers.Transport.Name)

	return &app.Providers{Classifier: clf, Transport: tr}, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer. YAML numbers decode as int or float64.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// optStrings extracts a list of strings. Non-string items are skipped.
func optStrings(opts map[string]any, key string) []string {
	items, _ := opts[key].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}
