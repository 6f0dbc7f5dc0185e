package analysis

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flocklab/flocknet/metrics"
	"github.com/flocklab/flocknet/sim"
)

func TestFromAggregateTakesPeakFromSnapshots(t *testing.T) {
	agg := metrics.Aggregate{
		ThroughputPPS: 100,
		MeanLatencyMs: 5,
		LossRatio:     0.1,
		MeanQueueLen:  3,
	}
	snapshots := []metrics.Snapshot{
		{MeanQueueLen: 2}, {MeanQueueLen: 9}, {MeanQueueLen: 4},
	}

	r := FromAggregate("red", agg, snapshots)

	assert.Equal(t, "red", r.Strategy)
	assert.Equal(t, 1, r.Runs)
	assert.Equal(t, 9.0, r.PeakQueueLen)
	assert.Equal(t, 0.1, r.LossRate)
}

func TestAverageFoldsRepetitions(t *testing.T) {
	reports := []Report{
		{Strategy: "codel", Runs: 1, ThroughputPPS: 100,
			MeanLatencyMs: 4, LossRate: 0.02, PeakQueueLen: 10},
		{Strategy: "codel", Runs: 1, ThroughputPPS: 110,
			MeanLatencyMs: 6, LossRate: 0.04, PeakQueueLen: 8},
	}

	avg := Average(reports)

	assert.Equal(t, "codel", avg.Strategy)
	assert.Equal(t, 2, avg.Runs)
	assert.InDelta(t, 105.0, avg.ThroughputPPS, 1e-9)
	assert.InDelta(t, 5.0, avg.MeanLatencyMs, 1e-9)
	assert.InDelta(t, 0.03, avg.LossRate, 1e-9)
	assert.Equal(t, 10.0, avg.PeakQueueLen, "peak takes the maximum")
}

func TestAverageOfNothing(t *testing.T) {
	assert.Equal(t, Report{}, Average(nil))
}

func TestLoadReportsReadsAnalysisFiles(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, a RunAnalysis) {
		raw, err := json.Marshal(a)
		require.NoError(t, err)
		require.NoError(t,
			os.WriteFile(filepath.Join(dir, name), raw, 0o644))
	}

	cfgRed := sim.DefaultConfig()
	cfgRed.Strategy = "red"
	write("red_20260806_120000_analysis.json", RunAnalysis{
		Config:    cfgRed,
		Aggregate: metrics.Aggregate{MeanLatencyMs: 7},
	})

	cfgBlue := sim.DefaultConfig()
	cfgBlue.Strategy = "blue"
	write("blue_20260806_120100_analysis.json", RunAnalysis{
		Config:    cfgBlue,
		Aggregate: metrics.Aggregate{MeanLatencyMs: 9},
	})

	// Non-analysis files are skipped.
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "red_20260806_120000.csv"),
		[]byte("t\n"), 0o644))

	reports, err := LoadReports(dir)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "blue", reports[0].Strategy)
	assert.Equal(t, "red", reports[1].Strategy)
	assert.InDelta(t, 9.0, reports[0].MeanLatencyMs, 1e-9)
}

func TestPrintComparisonHighlightsWinners(t *testing.T) {
	reports := []Report{
		{Strategy: "drop-tail", ThroughputPPS: 90, MeanLatencyMs: 60,
			LossRate: 0.02},
		{Strategy: "codel", ThroughputPPS: 88, MeanLatencyMs: 8,
			LossRate: 0.03},
	}

	var buf bytes.Buffer
	PrintComparison(&buf, reports)

	out := buf.String()
	assert.Contains(t, out, "drop-tail")
	assert.Contains(t, out, "codel")
	assert.Contains(t, out, "Lowest latency: codel")
	assert.Contains(t, out, "Top throughput: drop-tail")
	assert.Contains(t, out, "Lowest loss:    drop-tail")
}

func TestLaTeXExports(t *testing.T) {
	dir := t.TempDir()
	reports := []Report{
		{Strategy: "fq-codel", Runs: 3, ThroughputPPS: 95,
			MeanLatencyMs: 6.5, P95LatencyMs: 11, LossRate: 0.01,
			MeanQueueLen: 2, PeakQueueLen: 7, JitterMs: 0.4},
	}

	tablePath := filepath.Join(dir, "cmp_table.tex")
	require.NoError(t, ExportLaTeXTable(reports, tablePath))

	raw, err := os.ReadFile(tablePath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\\begin{tabular}")
	assert.Contains(t, string(raw), "fq-codel")

	detailPath := filepath.Join(dir, "cmp_detailed.tex")
	require.NoError(t, ExportLaTeXDetailed(reports, detailPath))

	figurePath := filepath.Join(dir, "cmp_figure.tex")
	require.NoError(t, ExportLaTeXFigure(reports, figurePath,
		"caption", "fig:x"))

	raw, err = os.ReadFile(figurePath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\\begin{axis}")
}
