package commands

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scanwedge/internal/config"
	"scanwedge/internal/keystroke"
	"scanwedge/internal/logging"
	"scanwedge/internal/printer"
	"scanwedge/internal/scanner"
)

var (
	replayProfile      string
	replayTerminator   string
	replaySeed         int64
	replayJSON         bool
	replayListProfiles bool
)

var replayCmd = &cobra.Command{
	Use:   "replay [CODE...]",
	Short: "Feed synthetic bursts through the classifier",
	Long: `Replay types each CODE with the cadence of a timing profile and reports
whether the configured thresholds accept it. Nothing touches the real
keyboard and time is simulated, so results are reproducible per seed.

Examples:
  # Does a throttled Bluetooth scanner pass?
  scanwedge replay --profile slow-scanner 4006381333931

  # Human typing should be rejected
  scanwedge replay --profile human hello123

  # No terminator: the burst ends on the timeout
  scanwedge replay --terminator none ABC-12345`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVarP(&replayProfile, "profile", "p", "scanner", "Timing profile (see --list-profiles)")
	replayCmd.Flags().StringVarP(&replayTerminator, "terminator", "t", "enter", "Key after each code: enter, tab or none")
	replayCmd.Flags().Int64Var(&replaySeed, "seed", 1, "Random seed for the timing jitter")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Print outcomes as JSON")
	replayCmd.Flags().BoolVar(&replayListProfiles, "list-profiles", false, "List timing profiles and exit")

	rootCmd.AddCommand(replayCmd)
}

// replayOutcome is the verdict for one replayed code.
type replayOutcome struct {
	Code     string          `json:"code"`
	Accepted bool            `json:"accepted"`
	Result   *scanner.Result `json:"result,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if replayListProfiles {
		for _, name := range keystroke.Profiles() {
			p, _ := keystroke.LookupProfile(name)
			printer.Fields(out, p.Name, fmt.Sprintf("%s (mean %s)", p.Description, p.MeanInterval))
		}
		return nil
	}

	if len(args) == 0 {
		return printer.Error(cmd.ErrOrStderr(), "no codes given",
			"Replay needs at least one code to type.",
			[]string{"scanwedge replay 4006381333931"})
	}
	profile, ok := keystroke.LookupProfile(replayProfile)
	if !ok {
		return printer.Error(cmd.ErrOrStderr(), "unknown profile",
			fmt.Sprintf("No timing profile named %q.", replayProfile),
			[]string{"Valid profiles: " + strings.Join(keystroke.Profiles(), ", ")})
	}
	key, err := terminatorKey(replayTerminator)
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "invalid terminator", err.Error(),
			[]string{"Valid terminators: enter, tab, none"})
	}

	cfg, _, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	outcomes, err := replay(cfg, profile, args, key, replaySeed)
	if err != nil {
		return err
	}
	if replayJSON {
		return writeJSON(out, outcomes)
	}
	printOutcomes(out, outcomes)
	return nil
}

func terminatorKey(name string) (string, error) {
	switch strings.ToLower(name) {
	case "enter":
		return keystroke.KeyEnter, nil
	case "tab":
		return keystroke.KeyTab, nil
	case "none", "":
		return "", nil
	}
	return "", fmt.Errorf("unknown terminator %q", name)
}

// replay types each code through a controller driven by a manual clock.
// After every burst the clock runs past the end timeout and idle gap so
// the next code starts a fresh session.
func replay(cfg *config.Config, profile keystroke.Profile, codes []string, terminator string, seed int64) ([]replayOutcome, error) {
	terminators, err := cfg.Terminators()
	if err != nil {
		return nil, err
	}

	clk := scanner.NewManualClock(time.Unix(1700000000, 0).UTC())
	src := keystroke.NewSimulated()
	defer src.Close()

	var results []scanner.Result
	quiet := logging.NewWithWriter(logging.DefaultConfig(), io.Discard)
	ctrl, err := scanner.New(src, scanner.Options{
		OnScan:      func(r scanner.Result) { results = append(results, r) },
		Enabled:     true,
		Thresholds:  cfg.Thresholds(),
		Terminators: terminators,
		Clock:       clk,
		Logger:      quiet.Logger,
	})
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	th := cfg.Thresholds()
	rng := rand.New(rand.NewSource(seed))
	outcomes := make([]replayOutcome, 0, len(codes))
	for _, code := range codes {
		before := len(results)
		events := profile.Burst(code, terminator, clk.Now(), rng)
		for i := range events {
			clk.Set(events[i].Timestamp)
			src.Emit(&events[i])
		}
		clk.Advance(th.EndTimeout + th.IdleGap)

		o := replayOutcome{Code: code}
		if len(results) > before {
			r := results[len(results)-1]
			o.Accepted = true
			o.Result = &r
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func printOutcomes(w io.Writer, outcomes []replayOutcome) {
	accepted := 0
	for _, o := range outcomes {
		if o.Accepted {
			accepted++
			printer.Success(w, "%-24s accepted", o.Code)
			printer.Dim(w, "  %s  avg %s\n", o.Result.Suffix, o.Result.AvgInterval.Round(10*time.Microsecond))
		} else {
			printer.Warning(w, "%-24s rejected\n", o.Code)
		}
	}
	printer.Info(w, "%d/%d accepted\n", accepted, len(outcomes))
}
