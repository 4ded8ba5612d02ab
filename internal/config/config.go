// Package config provides the configuration schema, loader, and provider registry
// for the radiogate router.
package config

import (
	"time"

	"github.com/MrWong99/radiogate/internal/engine"
	"github.com/MrWong99/radiogate/pkg/audio/crossfade"
	"github.com/MrWong99/radiogate/pkg/provider/classifier"
)

// LogLevel controls log verbosity for the radiogate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	// LogFormatAuto uses text on a terminal and JSON otherwise.
	LogFormatAuto LogFormat = "auto"
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatAuto, LogFormatText, LogFormatJSON:
		return true
	}
	return false
}

// Config is the root configuration structure for radiogate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// Keys absent from the file keep the values of [Default].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Router    RouterConfig    `yaml:"router"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the radiogate server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON logs.
	LogFormat LogFormat `yaml:"log_format"`

	// AllowedOrigins lists host patterns permitted to open the player and
	// event WebSockets from another origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// RouterConfig holds the hysteresis and crossfade settings.
type RouterConfig struct {
	// EnterSecondary: switch to the substitute when confidence rises above.
	EnterSecondary float64 `yaml:"enter_secondary"`

	// ExitSecondary: switch back when confidence falls below.
	ExitSecondary float64 `yaml:"exit_secondary"`

	// ClassIndex is the score slot read from each classifier result.
	ClassIndex int `yaml:"class_index"`

	// StepSize is the volume change per fade tick.
	StepSize float64 `yaml:"step_size"`

	// TickIntervalMs is the delay between fade ticks in milliseconds.
	TickIntervalMs int `yaml:"tick_interval_ms"`

	// ProbabilityThreshold and OverlapFactor are forwarded to the classifier.
	ProbabilityThreshold float64 `yaml:"probability_threshold"`
	OverlapFactor        float64 `yaml:"overlap_factor"`
}

// TickInterval returns TickIntervalMs as a duration.
func (r RouterConfig) TickInterval() time.Duration {
	return time.Duration(r.TickIntervalMs) * time.Millisecond
}

// ChannelsConfig assigns sources to the two channels.
type ChannelsConfig struct {
	Primary   ChannelConfig `yaml:"primary"`
	Secondary ChannelConfig `yaml:"secondary"`
}

// ChannelConfig describes one channel.
type ChannelConfig struct {
	// Source is the media URL or path assigned on every start. Empty leaves
	// the player's own source untouched.
	Source string `yaml:"source"`
}

// ProvidersConfig declares which implementation to use for the classifier
// and the transport. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	Classifier ProviderEntry `yaml:"classifier"`
	Transport  ProviderEntry `yaml:"transport"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "remote").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL is the provider endpoint, where it has one.
	BaseURL string `yaml:"base_url"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	th := engine.DefaultThresholds()
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
			LogFormat:  LogFormatAuto,
		},
		Router: RouterConfig{
			EnterSecondary:       th.EnterSecondary,
			ExitSecondary:        th.ExitSecondary,
			ClassIndex:           engine.DefaultClassIndex,
			StepSize:             crossfade.DefaultStepSize,
			TickIntervalMs:       int(crossfade.DefaultStepInterval / time.Millisecond),
			ProbabilityThreshold: classifier.DefaultProbabilityThreshold,
			OverlapFactor:        classifier.DefaultOverlapFactor,
		},
		Providers: ProvidersConfig{
			Classifier: ProviderEntry{Name: "remote"},
			Transport:  ProviderEntry{Name: "remote"},
		},
	}
}

// EngineConfig converts the router and channel sections into an
// [engine.Config].
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Thresholds: engine.Thresholds{
			EnterSecondary: c.Router.EnterSecondary,
			ExitSecondary:  c.Router.ExitSecondary,
		},
		ClassIndex:      c.Router.ClassIndex,
		StepSize:        c.Router.StepSize,
		TickInterval:    c.Router.TickInterval(),
		PrimarySource:   c.Channels.Primary.Source,
		SecondarySource: c.Channels.Secondary.Source,
		Listen: classifier.Config{
			ProbabilityThreshold: c.Router.ProbabilityThreshold,
			OverlapFactor:        c.Router.OverlapFactor,
		},
	}
}
