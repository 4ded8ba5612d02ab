package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/radiogate/internal/config"
	"github.com/MrWong99/radiogate/internal/simulate"
	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/provider/classifier/replay"
)

func newSimulateCommand(configPath *string) *cobra.Command {
	var (
		interval  time.Duration
		enter     float64
		exit      float64
		onlyMoves bool
	)

	cmd := &cobra.Command{
		Use:   "simulate <scores-file>",
		Short: "Replay recorded classifier scores and print what the router would do",
		Long: "Each line of the scores file is one classifier result: either the full score\n" +
			"list or a single confidence value. Lines starting with # are ignored. The\n" +
			"router settings come from the config file when it exists.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOptionalConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("enter") {
				cfg.Router.EnterSecondary = enter
			}
			if cmd.Flags().Changed("exit") {
				cfg.Router.ExitSecondary = exit
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := replay.ParseScores(f)
			if err != nil {
				return fmt.Errorf("read scores: %w", err)
			}

			steps, err := simulate.Run(cfg.EngineConfig(), rows, simulate.Options{Interval: interval})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSteps(steps, onlyMoves))
			fmt.Fprintln(cmd.OutOrStdout(), summarize(steps))
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", simulate.DefaultInterval, "Virtual time between score rows")
	cmd.Flags().Float64Var(&enter, "enter", 0, "Override router.enter_secondary")
	cmd.Flags().Float64Var(&exit, "exit", 0, "Override router.exit_secondary")
	cmd.Flags().BoolVar(&onlyMoves, "transitions", false, "Only print rows that changed the mode")
	return cmd
}

// loadOptionalConfig loads path, falling back to the defaults when the file
// does not exist.
func loadOptionalConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func renderSteps(steps []simulate.Step, onlyMoves bool) string {
	headers := []string{"#", "Time", "Confidence", "Mode", "Transition", "Primary", "Secondary"}
	aligns := []columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft, alignLeft, alignLeft}

	rows := make([][]string, 0, len(steps))
	for _, s := range steps {
		if onlyMoves && s.Transition == nil {
			continue
		}
		conf := "invalid"
		if s.Valid {
			conf = strconv.FormatFloat(s.Value, 'f', 3, 64)
		}
		move := ""
		if s.Transition != nil {
			move = fmt.Sprintf("%s → %s (%s)", s.Transition.From, s.Transition.To, s.Transition.Reason)
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Index),
			s.At.String(),
			conf,
			s.Mode.String(),
			move,
			channelSummary(s.Primary),
			channelSummary(s.Secondary),
		})
	}
	return renderTable(headers, rows, aligns)
}

func channelSummary(st audio.ChannelState) string {
	state := "paused"
	if st.Playing {
		state = "playing"
	}
	if st.Muted {
		state += ", muted"
	}
	return fmt.Sprintf("%s %.2f", state, st.Volume)
}

func summarize(steps []simulate.Step) string {
	var moves, invalid int
	for _, s := range steps {
		if s.Transition != nil {
			moves++
		}
		if !s.Valid {
			invalid++
		}
	}
	return fmt.Sprintf("%d rows, %d transitions, %d invalid", len(steps), moves, invalid)
}
