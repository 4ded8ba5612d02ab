package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RouterChanged is true if the router or channel sections differ. The
	// change is applied to the engine the next time it is stopped.
	RouterChanged bool
	NewRouter     RouterConfig
	NewChannels   ChannelsConfig

	// RestartRequired lists changed keys that only take effect on restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Router != new.Router || old.Channels != new.Channels {
		d.RouterChanged = true
		d.NewRouter = new.Router
		d.NewChannels = new.Channels
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server.log_format")
	}
	if !sameProvider(old.Providers.Classifier, new.Providers.Classifier) {
		d.RestartRequired = append(d.RestartRequired, "providers.classifier")
	}
	if !sameProvider(old.Providers.Transport, new.Providers.Transport) {
		d.RestartRequired = append(d.RestartRequired, "providers.transport")
	}

	return d
}

// sameProvider compares the scalar fields of two entries. Options are not
// compared.
func sameProvider(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL
}
