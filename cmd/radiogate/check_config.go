package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/radiogate/internal/config"
)

func newCheckConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate a configuration file and print the resolved values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", *configPath)
			fmt.Fprintln(out, renderKeyValues("radiogate configuration", settingRows(cfg)))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

// settingRows lists every resolved setting. API keys are masked.
func settingRows(cfg *config.Config) [][2]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	orNone := func(s string) string {
		if s == "" {
			return "(none)"
		}
		return s
	}
	rows := [][2]string{
		{"server.listen_addr", cfg.Server.ListenAddr},
		{"server.log_level", string(cfg.Server.LogLevel)},
		{"server.log_format", string(cfg.Server.LogFormat)},
		{"server.allowed_origins", orNone(strings.Join(cfg.Server.AllowedOrigins, ", "))},
		{"server.tls", tlsSummary(cfg.Server.TLS)},
		{"router.enter_secondary", f(cfg.Router.EnterSecondary)},
		{"router.exit_secondary", f(cfg.Router.ExitSecondary)},
		{"router.class_index", strconv.Itoa(cfg.Router.ClassIndex)},
		{"router.step_size", f(cfg.Router.StepSize)},
		{"router.tick_interval_ms", strconv.Itoa(cfg.Router.TickIntervalMs)},
		{"router.probability_threshold", f(cfg.Router.ProbabilityThreshold)},
		{"router.overlap_factor", f(cfg.Router.OverlapFactor)},
		{"channels.primary.source", orNone(cfg.Channels.Primary.Source)},
		{"channels.secondary.source", orNone(cfg.Channels.Secondary.Source)},
	}
	rows = append(rows, providerRows("classifier", cfg.Providers.Classifier)...)
	rows = append(rows, providerRows("transport", cfg.Providers.Transport)...)
	return rows
}

func providerRows(kind string, e config.ProviderEntry) [][2]string {
	prefix := "providers." + kind + "."
	rows := [][2]string{{prefix + "name", e.Name}}
	if e.BaseURL != "" {
		rows = append(rows, [2]string{prefix + "base_url", e.BaseURL})
	}
	if e.APIKey != "" {
		rows = append(rows, [2]string{prefix + "api_key", "(set)"})
	}
	keys := make([]string, 0, len(e.Options))
	for k := range e.Options {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		rows = append(rows, [2]string{prefix + "options." + k, fmt.Sprint(e.Options[k])})
	}
	return rows
}

func tlsSummary(t *config.TLSConfig) string {
	if t == nil {
		return "(disabled)"
	}
	return t.CertFile + " / " + t.KeyFile
}
