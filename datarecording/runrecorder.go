package datarecording

import (
	"database/sql"
	"fmt"
	"os"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/flocklab/flocknet/metrics"
	"github.com/flocklab/flocknet/sim"
)

// The recording schema. One row per run in runs, one row per snapshot in
// snapshots; runs from repeated invocations append to the same database so
// a comparison can be queried across strategies.
const (
	createRunsSQL = `CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	strategy TEXT,
	status TEXT,
	agents INTEGER,
	servers INTEGER,
	duration_seconds REAL,
	sent INTEGER,
	delivered INTEGER,
	dropped_strategy INTEGER,
	dropped_capacity INTEGER,
	dropped_transport INTEGER,
	mean_latency_ms REAL,
	p95_latency_ms REAL,
	loss_ratio REAL,
	mean_queue_len REAL,
	jitter_ms REAL
);`

	createSnapshotsSQL = `CREATE TABLE IF NOT EXISTS snapshots (
	run_id TEXT,
	t REAL,
	sent INTEGER,
	delivered INTEGER,
	dropped INTEGER,
	throughput_pps REAL,
	mean_latency_ms REAL,
	p95_latency_ms REAL,
	loss_ratio REAL,
	mean_queue_len REAL,
	jitter_ms REAL
);`

	insertRunSQL = `INSERT INTO runs VALUES
	(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertSnapshotSQL = `INSERT INTO snapshots VALUES
	(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// A RunSummary is the runs-table row of one finished run.
type RunSummary struct {
	RunID            string
	Strategy         string
	Status           string
	Agents           int
	Servers          int
	DurationSeconds  float64
	Sent             uint64
	Delivered        uint64
	DroppedStrategy  uint64
	DroppedCapacity  uint64
	DroppedTransport uint64
	MeanLatencyMs    float64
	P95LatencyMs     float64
	LossRatio        float64
	MeanQueueLen     float64
	JitterMs         float64
}

// SummarizeRun flattens a run's identity, configuration and aggregate into
// the runs-table row.
func SummarizeRun(
	id string,
	cfg sim.Config,
	status string,
	agg metrics.Aggregate,
) RunSummary {
	return RunSummary{
		RunID:            id,
		Strategy:         cfg.Strategy,
		Status:           status,
		Agents:           cfg.Agents,
		Servers:          cfg.Servers,
		DurationSeconds:  agg.DurationSeconds,
		Sent:             agg.Sent,
		Delivered:        agg.Delivered,
		DroppedStrategy:  agg.DroppedStrategy,
		DroppedCapacity:  agg.DroppedCapacity,
		DroppedTransport: agg.DroppedTransport,
		MeanLatencyMs:    agg.MeanLatencyMs,
		P95LatencyMs:     agg.P95LatencyMs,
		LossRatio:        agg.LossRatio,
		MeanQueueLen:     agg.MeanQueueLen,
		JitterMs:         agg.JitterMs,
	}
}

type snapshotRow struct {
	runID string
	snap  metrics.Snapshot
}

// A RunRecorder appends run summaries and snapshot series to a SQLite
// database for ad-hoc queries across runs. Rows are buffered and written in
// one transaction per Flush.
type RunRecorder struct {
	db *sql.DB

	pendingRuns  []RunSummary
	pendingSnaps []snapshotRow
}

// NewRunRecorder opens (or creates) the recording database at path
// (".sqlite3" is appended). An empty path picks a unique name. The database
// is flushed at process exit.
func NewRunRecorder(path string) (*RunRecorder, error) {
	if path == "" {
		path = "flocknet_recording_" + xid.New().String()
	}
	filename := path + ".sqlite3"

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", filename, err)
	}

	for _, ddl := range []string{createRunsSQL, createSnapshotsSQL} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("create recording schema: %w", err)
		}
	}

	r := &RunRecorder{db: db}

	atexit.Register(func() {
		if err := r.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "recording flush: %v\n", err)
		}
	})

	return r, nil
}

// RecordRun buffers one run's summary row.
func (r *RunRecorder) RecordRun(summary RunSummary) {
	r.pendingRuns = append(r.pendingRuns, summary)
}

// RecordSnapshots buffers a run's snapshot series.
func (r *RunRecorder) RecordSnapshots(runID string, snapshots []metrics.Snapshot) {
	for _, s := range snapshots {
		r.pendingSnaps = append(r.pendingSnaps, snapshotRow{runID, s})
	}
}

// Flush writes all buffered rows in one transaction.
func (r *RunRecorder) Flush() error {
	if len(r.pendingRuns) == 0 && len(r.pendingSnaps) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, run := range r.pendingRuns {
		_, err := tx.Exec(insertRunSQL,
			run.RunID, run.Strategy, run.Status, run.Agents, run.Servers,
			run.DurationSeconds, run.Sent, run.Delivered,
			run.DroppedStrategy, run.DroppedCapacity, run.DroppedTransport,
			run.MeanLatencyMs, run.P95LatencyMs, run.LossRatio,
			run.MeanQueueLen, run.JitterMs)
		if err != nil {
			return fmt.Errorf("insert run %s: %w", run.RunID, err)
		}
	}

	for _, row := range r.pendingSnaps {
		s := row.snap
		_, err := tx.Exec(insertSnapshotSQL,
			row.runID, s.T, s.Sent, s.Delivered, s.Dropped,
			s.ThroughputPPS, s.MeanLatencyMs, s.P95LatencyMs,
			s.LossRatio, s.MeanQueueLen, s.JitterMs)
		if err != nil {
			return fmt.Errorf("insert snapshot for %s: %w", row.runID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.pendingRuns = nil
	r.pendingSnaps = nil

	return nil
}

// Close flushes and closes the database.
func (r *RunRecorder) Close() error {
	flushErr := r.Flush()

	if err := r.db.Close(); err != nil {
		return err
	}

	return flushErr
}
