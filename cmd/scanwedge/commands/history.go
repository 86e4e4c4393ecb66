package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"scanwedge/internal/printer"
	"scanwedge/internal/store"
)

var (
	historyLimit int
	historyTop   bool
	historyCode  string
	historySess  string
	historyStats bool
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded scans",
	Long: `History reads the scan database written by 'scanwedge run'.

Examples:
  # Last 20 scans
  scanwedge history

  # Most frequently scanned codes
  scanwedge history --top -n 10

  # Every scan of one code as JSON
  scanwedge history --code 4006381333931 --json

  # The scan behind a session id from redis or D-Bus
  scanwedge history --session 0b6c9e5e-...`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum rows to show")
	historyCmd.Flags().BoolVar(&historyTop, "top", false, "Show scan counts per code instead of scans")
	historyCmd.Flags().StringVar(&historyCode, "code", "", "Show every scan of this code")
	historyCmd.Flags().StringVar(&historySess, "session", "", "Show the scan with this session id")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "Show a summary of the history")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print JSON instead of a table")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if !cfg.Storage.Enabled {
		return printer.Error(cmd.ErrOrStderr(),
			"scan history disabled",
			"storage.enabled is false in the config.",
			[]string{"Enable storage and restart 'scanwedge run'."},
		)
	}
	if historyLimit <= 0 {
		return printer.Error(cmd.ErrOrStderr(), "invalid limit",
			fmt.Sprintf("--limit must be positive, got %d", historyLimit), nil)
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open scan history: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()

	switch {
	case historyStats:
		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(out, stats)
		}
		printStats(out, stats)
		return nil

	case historyTop:
		counts, err := st.CountByCode(ctx, historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(out, counts)
		}
		printCounts(out, counts)
		return nil
	}

	var scans []store.Scan
	if historySess != "" {
		sc, err := st.ScanBySession(ctx, historySess)
		if errors.Is(err, store.ErrNotFound) {
			return printer.Error(cmd.ErrOrStderr(), "scan not found",
				fmt.Sprintf("No scan has session id %q.", historySess), nil)
		}
		if err != nil {
			return err
		}
		scans = []store.Scan{*sc}
	} else if historyCode != "" {
		scans, err = st.ScansByCode(ctx, historyCode)
		if len(scans) > historyLimit {
			scans = scans[:historyLimit]
		}
	} else {
		scans, err = st.RecentScans(ctx, historyLimit)
	}
	if err != nil {
		return err
	}
	if historyJSON {
		return writeJSON(out, scans)
	}
	printScans(out, scans)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const timeLayout = "2006-01-02 15:04:05"

func printScans(w io.Writer, scans []store.Scan) {
	if len(scans) == 0 {
		printer.Info(w, "No scans recorded.\n")
		return
	}
	printer.Highlight(w, "%-6s %-19s %-24s %-8s %5s %s\n", "ID", "TIME", "CODE", "SUFFIX", "KEYS", "AVG")
	for _, sc := range scans {
		fmt.Fprintf(w, "%-6d %-19s %-24s %-8s %5d %s\n",
			sc.ID, sc.EndedAt.Local().Format(timeLayout), sc.Code, sc.Suffix,
			sc.Keystrokes, sc.AvgInterval.Round(100*time.Microsecond))
	}
}

func printCounts(w io.Writer, counts []store.CodeCount) {
	if len(counts) == 0 {
		printer.Info(w, "No scans recorded.\n")
		return
	}
	printer.Highlight(w, "%-24s %6s %s\n", "CODE", "COUNT", "LAST")
	for _, c := range counts {
		fmt.Fprintf(w, "%-24s %6d %s\n", c.Code, c.Count, c.Last.Local().Format(timeLayout))
	}
}

func printStats(w io.Writer, st *store.Stats) {
	if st.TotalScans == 0 {
		printer.Info(w, "No scans recorded.\n")
		return
	}
	printer.Fields(w,
		"scans", fmt.Sprint(st.TotalScans),
		"codes", fmt.Sprint(st.DistinctCodes),
		"first", st.FirstScan.Local().Format(timeLayout),
		"last", st.LastScan.Local().Format(timeLayout),
		"schema", fmt.Sprintf("v%d", st.SchemaVersion),
	)
}
