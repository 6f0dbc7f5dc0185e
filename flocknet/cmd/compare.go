package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/flocklab/flocknet/analysis"
	"github.com/flocklab/flocknet/datarecording"
	"github.com/flocklab/flocknet/simulation"
)

func init() {
	flags := &runFlags{}

	var strategies string
	var repetitions int

	compareCmd := &cobra.Command{
		Use:   "compare",
		Short: "Run repeated simulations across strategies and compare them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.config(cmd)
			if err != nil {
				return err
			}

			names := splitStrategies(strategies)
			total := len(names) * repetitions

			var records []*simulation.RunRecord
			var reports []analysis.Report
			var firstErr error

			done := 0
			for _, name := range names {
				runCfg := cfg
				runCfg.Strategy = name
				runCfg.Name = fmt.Sprintf("%s_%s", name, cfg.Traffic.Pattern)

				var strategyReports []analysis.Report

				for rep := 1; rep <= repetitions; rep++ {
					done++
					fmt.Fprintf(os.Stderr,
						"\n[%d/%d] %s repetition %d/%d\n",
						done, total, name, rep, repetitions)

					record, err := executeRun(runCfg, flags)
					if record != nil {
						records = append(records, record)
						if saveErr := saveArtifacts(record, ""); saveErr != nil &&
							firstErr == nil {
							firstErr = saveErr
						}
					}
					if err != nil {
						// A failed run keeps its partial record; the
						// comparison proceeds with the next strategy.
						fmt.Fprintf(os.Stderr,
							"run failed: %v\n", err)
						if firstErr == nil {
							firstErr = err
						}
						break
					}

					strategyReports = append(strategyReports,
						analysis.FromAggregate(
							name, record.Aggregate, record.Snapshots))
				}

				if len(strategyReports) > 0 {
					reports = append(reports,
						analysis.Average(strategyReports))
				}
			}

			analysis.PrintComparison(os.Stdout, reports)

			w, err := datarecording.NewResultsWriter(resultsDir)
			if err != nil {
				return err
			}

			ts := datarecording.ArtifactTimestamp(time.Now())
			path, err := w.WriteComparison(ts, records)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Comparison saved to: %s\n", path)

			return firstErr
		},
	}

	flags.register(compareCmd)
	compareCmd.Flags().StringVar(&strategies, "strategies",
		"drop-tail,red,adaptive-red,blue,codel,pie,fq-codel",
		"comma-separated strategies to compare")
	compareCmd.Flags().IntVarP(&repetitions, "repetitions", "r", 3,
		"repetitions per strategy")

	rootCmd.AddCommand(compareCmd)
}

func splitStrategies(s string) []string {
	parts := strings.Split(s, ",")

	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}

	return names
}
