package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/radiogate/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.RouterChanged {
		t.Error("expected RouterChanged=false for identical configs")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart keys, got %v", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RouterChanged {
		t.Error("log level change reported as router change")
	}
}

func TestDiff_RouterChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "enter threshold", mutate: func(c *config.Config) { c.Router.EnterSecondary = 0.9 }},
		{name: "exit threshold", mutate: func(c *config.Config) { c.Router.ExitSecondary = 0.1 }},
		{name: "tick interval", mutate: func(c *config.Config) { c.Router.TickIntervalMs = 25 }},
		{name: "step size", mutate: func(c *config.Config) { c.Router.StepSize = 0.1 }},
		{name: "substitute source", mutate: func(c *config.Config) { c.Channels.Secondary.Source = "/srv/other.mp3" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tc.mutate(new)

			d := config.Diff(old, new)
			if !d.RouterChanged {
				t.Fatal("expected RouterChanged=true")
			}
			if d.NewRouter != new.Router || d.NewChannels != new.Channels {
				t.Errorf("diff carries %+v / %+v", d.NewRouter, d.NewChannels)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9999"
	new.Providers.Classifier.BaseURL = "ws://other/listen"

	d := config.Diff(old, new)
	for _, key := range []string{"server.listen_addr", "providers.classifier"} {
		if !slices.Contains(d.RestartRequired, key) {
			t.Errorf("RestartRequired %v missing %q", d.RestartRequired, key)
		}
	}
	if slices.Contains(d.RestartRequired, "providers.transport") {
		t.Error("unchanged transport reported")
	}
}
