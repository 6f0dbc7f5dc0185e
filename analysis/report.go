// Package analysis derives comparable reports from run results and renders
// comparison tables and LaTeX exports.
package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flocklab/flocknet/metrics"
	"github.com/flocklab/flocknet/sim"
)

// A RunAnalysis is the on-disk shape of a {name}_{ts}_analysis.json file.
type RunAnalysis struct {
	Config    sim.Config            `json:"config"`
	Aggregate metrics.Aggregate     `json:"aggregate"`
	PerServer []metrics.ServerStats `json:"per_server"`
}

// A Report is the strategy-level summary used for comparisons. Reports for
// the same strategy average across repetitions.
type Report struct {
	Strategy      string  `json:"strategy"`
	Runs          int     `json:"runs"`
	ThroughputPPS float64 `json:"throughput_pps"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	LossRate      float64 `json:"loss_rate"`
	MeanQueueLen  float64 `json:"mean_queue_len"`
	PeakQueueLen  float64 `json:"peak_queue_len"`
	JitterMs      float64 `json:"jitter_ms"`
}

// FromAggregate derives a single-run report.
func FromAggregate(
	strategy string,
	agg metrics.Aggregate,
	snapshots []metrics.Snapshot,
) Report {
	r := Report{
		Strategy:      strategy,
		Runs:          1,
		ThroughputPPS: agg.ThroughputPPS,
		MeanLatencyMs: agg.MeanLatencyMs,
		P95LatencyMs:  agg.P95LatencyMs,
		LossRate:      agg.LossRatio,
		MeanQueueLen:  agg.MeanQueueLen,
		JitterMs:      agg.JitterMs,
	}

	for _, s := range snapshots {
		if s.MeanQueueLen > r.PeakQueueLen {
			r.PeakQueueLen = s.MeanQueueLen
		}
	}

	return r
}

// FromAnalysis derives a report from a loaded analysis file.
func FromAnalysis(a RunAnalysis) Report {
	return Report{
		Strategy:      a.Config.Strategy,
		Runs:          1,
		ThroughputPPS: a.Aggregate.ThroughputPPS,
		MeanLatencyMs: a.Aggregate.MeanLatencyMs,
		P95LatencyMs:  a.Aggregate.P95LatencyMs,
		LossRate:      a.Aggregate.LossRatio,
		MeanQueueLen:  a.Aggregate.MeanQueueLen,
		JitterMs:      a.Aggregate.JitterMs,
	}
}

// Average folds repetition reports into one. Peak queue length takes the
// maximum; everything else the mean.
func Average(reports []Report) Report {
	if len(reports) == 0 {
		return Report{}
	}

	avg := Report{
		Strategy: reports[0].Strategy,
		Runs:     len(reports),
	}

	n := float64(len(reports))
	for _, r := range reports {
		avg.ThroughputPPS += r.ThroughputPPS / n
		avg.MeanLatencyMs += r.MeanLatencyMs / n
		avg.P95LatencyMs += r.P95LatencyMs / n
		avg.LossRate += r.LossRate / n
		avg.MeanQueueLen += r.MeanQueueLen / n
		avg.JitterMs += r.JitterMs / n

		if r.PeakQueueLen > avg.PeakQueueLen {
			avg.PeakQueueLen = r.PeakQueueLen
		}
	}

	return avg
}

// LoadReports reads every *_analysis.json under dir into reports, sorted by
// strategy name.
func LoadReports(dir string) ([]Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var reports []Report
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_analysis.json") {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}

		var a RunAnalysis
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}

		reports = append(reports, FromAnalysis(a))
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Strategy < reports[j].Strategy
	})

	return reports, nil
}

// PrintComparison renders the strategy comparison table.
func PrintComparison(w io.Writer, reports []Report) {
	fmt.Fprintf(w, "\n%-14s %12s %12s %10s %12s %10s\n",
		"Strategy", "Thrpt (pps)", "Latency (ms)", "Loss (%)",
		"Queue (pkts)", "Jitter (ms)")
	fmt.Fprintln(w, strings.Repeat("-", 76))

	for _, r := range reports {
		fmt.Fprintf(w, "%-14s %12.1f %12.2f %9.2f%% %12.1f %10.2f\n",
			r.Strategy, r.ThroughputPPS, r.MeanLatencyMs,
			r.LossRate*100, r.MeanQueueLen, r.JitterMs)
	}
	fmt.Fprintln(w)

	if best, ok := minBy(reports, func(r Report) float64 { return r.MeanLatencyMs }); ok {
		fmt.Fprintf(w, "Lowest latency: %s (%.2f ms)\n",
			best.Strategy, best.MeanLatencyMs)
	}
	if best, ok := minBy(reports, func(r Report) float64 { return r.LossRate }); ok {
		fmt.Fprintf(w, "Lowest loss:    %s (%.2f%%)\n",
			best.Strategy, best.LossRate*100)
	}
	if best, ok := maxBy(reports, func(r Report) float64 { return r.ThroughputPPS }); ok {
		fmt.Fprintf(w, "Top throughput: %s (%.1f pps)\n",
			best.Strategy, best.ThroughputPPS)
	}
}

func minBy(reports []Report, key func(Report) float64) (Report, bool) {
	if len(reports) == 0 {
		return Report{}, false
	}

	best := reports[0]
	for _, r := range reports[1:] {
		if key(r) < key(best) {
			best = r
		}
	}

	return best, true
}

func maxBy(reports []Report, key func(Report) float64) (Report, bool) {
	if len(reports) == 0 {
		return Report{}, false
	}

	best := reports[0]
	for _, r := range reports[1:] {
		if key(r) > key(best) {
			best = r
		}
	}

	return best, true
}
