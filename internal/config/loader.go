package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames are the built-in provider names per kind. [Validate]
// warns about any other name, which is still accepted so that out-of-tree
// factories can register.
var ValidProviderNames = map[string][]string{
	"classifier": {"remote", "replay"},
	"transport":  {"remote", "memory"},
}

// Load opens path and decodes it with [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem in cfg at once, joined with errors.Join.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: auto, text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Router
	if cfg.Router.TickIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("router.tick_interval_ms %d must be positive", cfg.Router.TickIntervalMs))
	} else if err := cfg.EngineConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("router: %w", err))
	}

	// Providers
	if cfg.Providers.Classifier.Name == "" {
		errs = append(errs, errors.New("providers.classifier.name is required"))
	}
	if cfg.Providers.Transport.Name == "" {
		errs = append(errs, errors.New("providers.transport.name is required"))
	}
	warnUnknownProvider("classifier", cfg.Providers.Classifier.Name)
	warnUnknownProvider("transport", cfg.Providers.Transport.Name)
	if cfg.Providers.Classifier.Name == "remote" && cfg.Providers.Classifier.BaseURL == "" {
		errs = append(errs, errors.New("providers.classifier.base_url is required for the remote classifier"))
	}

	// Channels
	if cfg.Channels.Secondary.Source == "" {
		slog.Warn("channels.secondary.source is empty; the player must provide the substitute track itself")
	}

	return errors.Join(errs...)
}

func warnUnknownProvider(kind, name string) {
	known := ValidProviderNames[kind]
	if name == "" || known == nil || slices.Contains(known, name) {
		return
	}
	slog.Warn("provider is not built in; a factory must be registered for it",
		slog.String("kind", kind),
		slog.String("name", name),
		slog.Any("built_in", known),
	)
}
