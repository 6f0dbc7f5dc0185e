package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flocklab/flocknet/analysis"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Summarize saved analysis files into a comparison table",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		dir := resultsDir
		if len(args) == 1 {
			dir = args[0]
		}

		reports, err := analysis.LoadReports(dir)
		if err != nil {
			return err
		}

		if len(reports) == 0 {
			fmt.Fprintf(os.Stderr, "No analysis files found in %s.\n", dir)
			return nil
		}

		analysis.PrintComparison(os.Stdout, reports)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
