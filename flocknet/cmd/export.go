package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flocklab/flocknet/analysis"
	"github.com/flocklab/flocknet/sim"
	"github.com/flocklab/flocknet/simulation"
)

func init() {
	var output string
	var format string

	exportCmd := &cobra.Command{
		Use:   "export <input>",
		Short: "Render LaTeX artifacts from saved results",
		Long: `Export renders LaTeX artifacts from a comparison JSON, a ` +
			`single analysis JSON, or a directory of analysis files. ` +
			`Formats: table, detailed, figure or all.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			reports, err := loadReportsForExport(args[0])
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				return fmt.Errorf("%w: no reports found in %s",
					sim.ErrConfigInvalid, args[0])
			}

			return renderExports(reports, output, format)
		},
	}

	exportCmd.Flags().StringVarP(&output, "output",
		"o", "results/comparison.tex", "output path (base name for all)")
	exportCmd.Flags().StringVarP(&format, "format",
		"f", "all", "table, detailed, figure or all")

	rootCmd.AddCommand(exportCmd)
}

func loadReportsForExport(input string) ([]analysis.Report, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sim.ErrConfigInvalid, err)
	}

	if info.IsDir() {
		return analysis.LoadReports(input)
	}

	raw, err := os.ReadFile(input)
	if err != nil {
		return nil, err
	}

	if strings.Contains(input, "comparison") {
		var records []simulation.RunRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("parse %s: %w", input, err)
		}
		return reportsFromRecords(records), nil
	}

	var a analysis.RunAnalysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("parse %s: %w", input, err)
	}

	return []analysis.Report{analysis.FromAnalysis(a)}, nil
}

// reportsFromRecords averages the repetitions of every strategy in a
// comparison file.
func reportsFromRecords(records []simulation.RunRecord) []analysis.Report {
	byStrategy := make(map[string][]analysis.Report)
	for _, r := range records {
		report := analysis.FromAggregate(
			r.Config.Strategy, r.Aggregate, r.Snapshots)
		byStrategy[r.Config.Strategy] = append(
			byStrategy[r.Config.Strategy], report)
	}

	names := make([]string, 0, len(byStrategy))
	for name := range byStrategy {
		names = append(names, name)
	}
	sort.Strings(names)

	reports := make([]analysis.Report, 0, len(names))
	for _, name := range names {
		reports = append(reports, analysis.Average(byStrategy[name]))
	}

	return reports
}

func renderExports(reports []analysis.Report, output, format string) error {
	base := strings.TrimSuffix(output, ".tex")

	export := func(kind string) (string, error) {
		path := fmt.Sprintf("%s_%s.tex", base, kind)

		var err error
		switch kind {
		case "table":
			err = analysis.ExportLaTeXTable(reports, path)
		case "detailed":
			err = analysis.ExportLaTeXDetailed(reports, path)
		case "figure":
			err = analysis.ExportLaTeXFigure(reports, path,
				"Mean latency per AQM strategy", "fig:latency_comparison")
		}

		return path, err
	}

	kinds := []string{format}
	if format == "all" {
		kinds = []string{"table", "detailed", "figure"}
	}

	for _, kind := range kinds {
		switch kind {
		case "table", "detailed", "figure":
		default:
			return fmt.Errorf("%w: unknown format %q; use table, "+
				"detailed, figure or all", sim.ErrConfigInvalid, kind)
		}

		path, err := export(kind)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "LaTeX %s exported to: %s\n", kind, path)
	}

	return nil
}
