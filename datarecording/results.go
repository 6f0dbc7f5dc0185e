package datarecording

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/flocklab/flocknet/metrics"
)

// snapshotHeader is the contractual column set of the per-snapshot CSV.
var snapshotHeader = []string{
	"t", "throughput_pps", "mean_latency_ms", "p95_latency_ms",
	"loss_ratio", "mean_queue_len", "jitter_ms",
}

// ArtifactTimestamp renders t the way result file names embed it.
func ArtifactTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// A ResultsWriter writes the per-run artifact files under one directory,
// conventionally "results".
type ResultsWriter struct {
	dir string
}

// NewResultsWriter creates the directory if needed.
func NewResultsWriter(dir string) (*ResultsWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &ResultsWriter{dir: dir}, nil
}

// WriteCSV writes the snapshot series as {name}_{timestamp}.csv and returns
// the path.
func (w *ResultsWriter) WriteCSV(
	name, timestamp string,
	snapshots []metrics.Snapshot,
) (string, error) {
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.csv", name, timestamp))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	cw := csv.NewWriter(f)

	if err := cw.Write(snapshotHeader); err != nil {
		return "", err
	}

	for _, s := range snapshots {
		row := []string{
			formatFloat(s.T),
			formatFloat(s.ThroughputPPS),
			formatFloat(s.MeanLatencyMs),
			formatFloat(s.P95LatencyMs),
			formatFloat(s.LossRatio),
			formatFloat(s.MeanQueueLen),
			formatFloat(s.JitterMs),
		}
		if err := cw.Write(row); err != nil {
			return "", err
		}
	}

	cw.Flush()

	return path, cw.Error()
}

// WriteAnalysisJSON writes v as {name}_{timestamp}_analysis.json and returns
// the path.
func (w *ResultsWriter) WriteAnalysisJSON(
	name, timestamp string,
	v any,
) (string, error) {
	path := filepath.Join(w.dir,
		fmt.Sprintf("%s_%s_analysis.json", name, timestamp))

	return path, writeJSONFile(path, v)
}

// WritePlotData writes the whitespace-separated plotting subset as
// {name}_{timestamp}_plot.dat and returns the path.
func (w *ResultsWriter) WritePlotData(
	name, timestamp string,
	snapshots []metrics.Snapshot,
) (string, error) {
	path := filepath.Join(w.dir,
		fmt.Sprintf("%s_%s_plot.dat", name, timestamp))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fmt.Fprintln(f, "# t throughput_pps mean_latency_ms p95_latency_ms loss_ratio")
	for _, s := range snapshots {
		fmt.Fprintf(f, "%g %g %g %g %g\n",
			s.T, s.ThroughputPPS, s.MeanLatencyMs, s.P95LatencyMs,
			s.LossRatio)
	}

	return path, nil
}

// WriteComparison writes the Run records of a comparison as
// comparison_{timestamp}.json and returns the path.
func (w *ResultsWriter) WriteComparison(
	timestamp string,
	records any,
) (string, error) {
	path := filepath.Join(w.dir,
		fmt.Sprintf("comparison_%s.json", timestamp))

	return path, writeJSONFile(path, records)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
