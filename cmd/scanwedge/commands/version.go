package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"scanwedge/internal/printer"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printer.Fields(cmd.OutOrStdout(),
			"version", version,
			"commit", commit,
			"built", date,
			"go", runtime.Version(),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
