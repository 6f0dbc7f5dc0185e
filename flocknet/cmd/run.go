package cmd

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flocklab/flocknet/analysis"
	"github.com/flocklab/flocknet/datarecording"
	"github.com/flocklab/flocknet/sim"
	"github.com/flocklab/flocknet/simulation"
)

// resultsDir is where artifact files land.
const resultsDir = "results"

// runFlags are the knobs shared by run and compare.
type runFlags struct {
	strategy     string
	agents       int
	servers      int
	duration     time.Duration
	traffic      string
	baseRate     float64
	peakRate     float64
	peakDuration time.Duration
	cycle        time.Duration
	burstSize    int
	burstPeriod  time.Duration
	capacity     int
	bandwidth    float64
	packetSize   uint32
	seed         uint64
	basePort     int
	configPath   string

	monitor     bool
	monitorPort int
	open        bool
	record      string
}

func (f *runFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.StringVarP(&f.strategy, "strategy", "s", "drop-tail",
		"AQM strategy to benchmark")
	flags.IntVarP(&f.agents, "agents", "n", 64, "number of agents")
	flags.IntVarP(&f.servers, "servers", "S", 4, "number of servers")
	flags.DurationVarP(&f.duration, "duration", "d", 60*time.Second,
		"simulation duration")
	flags.StringVarP(&f.traffic, "traffic", "t", "constant",
		"traffic pattern: constant, bursty, poisson or peak")
	flags.Float64Var(&f.baseRate, "base-rate", 100,
		"per-agent packet rate (constant/poisson) or base rate (peak)")
	flags.Float64Var(&f.peakRate, "peak-rate", 500,
		"peak packet rate for the peak pattern")
	flags.DurationVar(&f.peakDuration, "peak-duration", 10*time.Second,
		"peak phase length for the peak pattern")
	flags.DurationVar(&f.cycle, "cycle", 60*time.Second,
		"cycle length for the peak pattern")
	flags.IntVar(&f.burstSize, "burst-size", 10,
		"packets per burst for the bursty pattern")
	flags.DurationVar(&f.burstPeriod, "burst-period", time.Second,
		"gap between bursts for the bursty pattern")
	flags.IntVar(&f.capacity, "capacity", 1024,
		"per-server buffer capacity in packets")
	flags.Float64Var(&f.bandwidth, "bandwidth", 8000,
		"per-server service rate in packets per second, 0 for unlimited")
	flags.Uint32Var(&f.packetSize, "packet-size", 1500,
		"fixed on-wire packet size in bytes")
	flags.Uint64Var(&f.seed, "seed", 0,
		"RNG seed for reproducible runs, 0 for unseeded")
	flags.IntVar(&f.basePort, "base-port", 0,
		"first listener port, 0 for the default")
	flags.StringVarP(&f.configPath, "config", "c", "",
		"YAML scenario file; flags set explicitly still win")

	flags.BoolVar(&f.monitor, "monitor", false,
		"serve the live monitoring API during the run")
	flags.IntVar(&f.monitorPort, "monitor-port", 0,
		"monitoring port, 0 for a random one")
	flags.BoolVar(&f.open, "open", false,
		"open the monitoring dashboard in a browser")
	flags.StringVar(&f.record, "record", "",
		"record snapshots into a SQLite database at this path")
}

// config assembles the run configuration from a scenario file, the
// defaults and the explicitly set flags.
func (f *runFlags) config(cmd *cobra.Command) (sim.Config, error) {
	cfg := sim.DefaultConfig()

	if f.configPath != "" {
		loaded, err := sim.LoadConfig(f.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	setIf := func(name string, apply func()) {
		if f.configPath == "" || flags.Changed(name) {
			apply()
		}
	}

	setIf("strategy", func() { cfg.Strategy = f.strategy })
	setIf("agents", func() { cfg.Agents = f.agents })
	setIf("servers", func() { cfg.Servers = f.servers })
	setIf("duration", func() { cfg.Duration = f.duration })
	setIf("capacity", func() { cfg.Capacity = f.capacity })
	setIf("packet-size", func() { cfg.PacketSize = f.packetSize })
	setIf("seed", func() { cfg.Seed = f.seed })
	setIf("base-port", func() { cfg.BasePort = f.basePort })

	setIf("bandwidth", func() {
		cfg.BandwidthPPS = f.bandwidth
		if f.bandwidth == 0 {
			cfg.BandwidthPPS = math.Inf(1)
		}
	})

	setIf("traffic", func() {
		cfg.Traffic = f.trafficSpec()
	})

	cfg.Name = fmt.Sprintf("%s_%s", cfg.Strategy, cfg.Traffic.Pattern)

	return cfg, nil
}

func (f *runFlags) trafficSpec() sim.TrafficSpec {
	switch f.traffic {
	case "bursty":
		return sim.TrafficSpec{
			Pattern:     "bursty",
			BurstSize:   f.burstSize,
			BurstPeriod: f.burstPeriod,
		}
	case "peak":
		return sim.TrafficSpec{
			Pattern:      "peak",
			BaseRate:     f.baseRate,
			PeakRate:     f.peakRate,
			PeakDuration: f.peakDuration,
			Cycle:        f.cycle,
		}
	default:
		return sim.TrafficSpec{
			Pattern: f.traffic,
			Rate:    f.baseRate,
		}
	}
}

var runCmd *cobra.Command

func init() {
	flags := &runFlags{}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a single simulation and save its results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.config(cmd)
			if err != nil {
				return err
			}

			record, err := executeRun(cfg, flags)
			if record != nil {
				if saveErr := saveArtifacts(record, flags.record); saveErr != nil &&
					err == nil {
					err = saveErr
				}
			}

			return err
		},
	}
	flags.register(runCmd)

	rootCmd.AddCommand(runCmd)
}

// executeRun walks one simulation through its lifecycle while reporting
// progress.
func executeRun(cfg sim.Config, flags *runFlags) (*simulation.RunRecord, error) {
	fmt.Fprintf(os.Stderr,
		"Running %s: strategy=%s agents=%d servers=%d duration=%s\n",
		cfg.Name, cfg.Strategy, cfg.Agents, cfg.Servers, cfg.Duration)

	b := simulation.MakeBuilder().WithConfig(cfg)
	if flags.monitor || flags.open {
		b = b.WithMonitoring(flags.monitorPort)
	}
	if flags.open {
		b = b.WithDashboard()
	}

	s := b.Build()

	stopProgress := make(chan struct{})
	go reportProgress(s, stopProgress)

	record, err := s.Run(context.Background())
	close(stopProgress)

	if record != nil {
		printSummary(record)
	}

	return record, err
}

func reportProgress(s *simulation.Simulation, stop <-chan struct{}) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			if s.State() != simulation.StateRunning {
				continue
			}

			snap, ok := s.Collector().Latest()
			if !ok {
				continue
			}

			fmt.Fprintf(os.Stderr,
				"\r[%6.1fs] delivered=%d loss=%.2f%% queue=%.1f",
				s.Elapsed().Seconds(), snap.Delivered,
				snap.LossRatio*100, snap.MeanQueueLen)
		}
	}
}

func printSummary(record *simulation.RunRecord) {
	agg := record.Aggregate

	fmt.Fprintln(os.Stderr)
	fmt.Printf("Status:       %s\n", record.Status)
	fmt.Printf("Sent:         %d\n", agg.Sent)
	fmt.Printf("Delivered:    %d (%.1f pps)\n", agg.Delivered, agg.ThroughputPPS)
	fmt.Printf("Dropped:      %d strategy, %d capacity, %d transport\n",
		agg.DroppedStrategy, agg.DroppedCapacity, agg.DroppedTransport)
	fmt.Printf("Latency:      %.2f ms mean, %.2f ms p95\n",
		agg.MeanLatencyMs, agg.P95LatencyMs)
	fmt.Printf("Jitter:       %.2f ms\n", agg.JitterMs)
	fmt.Printf("Mean queue:   %.1f packets\n", agg.MeanQueueLen)
}

// saveArtifacts writes the contractual result files and, when requested,
// the SQLite recording.
func saveArtifacts(record *simulation.RunRecord, recordDB string) error {
	w, err := datarecording.NewResultsWriter(resultsDir)
	if err != nil {
		return err
	}

	ts := datarecording.ArtifactTimestamp(time.Now())
	name := record.Config.Name

	csvPath, err := w.WriteCSV(name, ts, record.Snapshots)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Results saved to: %s\n", csvPath)

	jsonPath, err := w.WriteAnalysisJSON(name, ts, analysis.RunAnalysis{
		Config:    record.Config,
		Aggregate: record.Aggregate,
		PerServer: record.PerServer,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Analysis saved to: %s\n", jsonPath)

	plotPath, err := w.WritePlotData(name, ts, record.Snapshots)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Plot data saved to: %s\n", plotPath)

	if recordDB != "" {
		if err := recordToDatabase(record, recordDB); err != nil {
			return err
		}
	}

	return nil
}

// recordToDatabase appends the run's summary and snapshots to the SQLite
// recording at path.
func recordToDatabase(record *simulation.RunRecord, path string) error {
	rec, err := datarecording.NewRunRecorder(path)
	if err != nil {
		return err
	}

	rec.RecordRun(datarecording.SummarizeRun(
		record.ID, record.Config, record.Status, record.Aggregate))
	rec.RecordSnapshots(record.ID, record.Snapshots)

	return rec.Close()
}
