// Package simulation wires agents, servers and the metrics collector into
// one run and walks it through the lifecycle
// Configured → Initializing → Running → Draining → Finalized.
package simulation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/flocklab/flocknet/aqm"
	"github.com/flocklab/flocknet/metrics"
	"github.com/flocklab/flocknet/monitoring"
	"github.com/flocklab/flocknet/sim"
)

// drainGrace is how long servers keep accepting after agents stopped, so
// in-flight arrivals can land.
const drainGrace = 50 * time.Millisecond

// watchdogSlack is added to the configured duration for the global
// watchdog; when it fires the run is forcibly terminated and marked
// timed-out.
const watchdogSlack = 10 * time.Second

// The lifecycle states.
const (
	StateConfigured   = "configured"
	StateInitializing = "initializing"
	StateRunning      = "running"
	StateDraining     = "draining"
	StateFinalized    = "finalized"
)

// A Simulation owns the agents and servers of one run. Reset between
// repeated runs is by full teardown and re-construction: a Simulation runs
// exactly once.
type Simulation struct {
	id  string
	cfg sim.Config

	clock     *sim.Clock
	collector *metrics.Collector
	servers   []*sim.ServerQueue
	agents    []*sim.Agent
	monitor   *monitoring.Monitor

	monitorOn   bool
	monitorPort int
	openBrowser bool

	state   atomic.Value
	started time.Time
}

func newSimulation(b Builder) *Simulation {
	s := &Simulation{
		id:          xid.New().String(),
		cfg:         b.cfg,
		monitorOn:   b.monitorOn,
		monitorPort: b.monitorPort,
		openBrowser: b.openBrowser,
	}
	s.state.Store(StateConfigured)

	return s
}

// ID returns the run id.
func (s *Simulation) ID() string {
	return s.id
}

// Config returns the run configuration.
func (s *Simulation) Config() sim.Config {
	return s.cfg
}

// State returns the current lifecycle state.
func (s *Simulation) State() string {
	return s.state.Load().(string)
}

// Elapsed returns the time since the run entered Running.
func (s *Simulation) Elapsed() time.Duration {
	if s.started.IsZero() {
		return 0
	}

	return time.Since(s.started)
}

// Ports returns the actually bound listener ports in server id order, so
// back-to-back runs can avoid colliding. Valid once Running.
func (s *Simulation) Ports() []int {
	ports := make([]int, len(s.servers))
	for i, srv := range s.servers {
		ports[i] = srv.Port()
	}

	return ports
}

// Collector exposes the metrics collector for live observation.
func (s *Simulation) Collector() *metrics.Collector {
	return s.collector
}

// Run executes the full lifecycle and returns the Run record. The record is
// emitted even when the run fails; the error then describes the failure.
func (s *Simulation) Run(ctx context.Context) (*RunRecord, error) {
	if err := s.cfg.ApplyEnv(); err != nil {
		return s.failedRecord(err), err
	}
	if err := s.cfg.Validate(); err != nil {
		return s.failedRecord(err), err
	}

	s.state.Store(StateInitializing)

	// Stream creation order is part of the deterministic contract:
	// collector first, then servers, then agents, all in id order.
	sim.SeedStreams(s.cfg.Seed)

	s.clock = sim.NewClock()
	s.collector = metrics.NewCollector(
		s.clock, s.cfg.Servers, s.cfg.BandwidthPPS)

	if err := s.initServers(); err != nil {
		s.teardownListeners()
		return s.failedRecord(err), err
	}

	if err := s.initAgents(); err != nil {
		s.teardownListeners()
		return s.failedRecord(err), err
	}

	s.collector.Start()

	if s.monitorOn {
		s.startMonitor()
	}

	err := s.runLifecycle(ctx)

	record := s.assembleRecord(err)
	s.state.Store(StateFinalized)

	if s.monitor != nil {
		s.monitor.Shutdown()
	}

	return record, err
}

func (s *Simulation) initServers() error {
	for j := 0; j < s.cfg.Servers; j++ {
		strategy, err := aqm.New(s.cfg.Strategy, aqm.Params{
			Capacity:     s.cfg.Capacity,
			PacketSize:   s.cfg.PacketSize,
			BandwidthPPS: s.cfg.BandwidthPPS,
			RNG:          sim.NewServerRNG(uint32(j)),
		})
		if err != nil {
			return err
		}

		srv := sim.NewServerQueue(
			uint32(j), s.cfg.Capacity, s.cfg.BandwidthPPS,
			strategy, s.clock, s.collector)

		basePort := s.cfg.BasePort
		if basePort == 0 {
			basePort = sim.DefaultBasePort
		}
		if err := srv.Bind(basePort + j); err != nil {
			return err
		}

		s.servers = append(s.servers, srv)
	}

	return nil
}

func (s *Simulation) initAgents() error {
	for i := 0; i < s.cfg.Agents; i++ {
		gen, err := sim.NewGenerator(s.cfg.Traffic, sim.NewAgentRNG(uint32(i)))
		if err != nil {
			return err
		}

		// Agents spread over servers round-robin.
		serverID := uint32(i % s.cfg.Servers)
		addr := fmt.Sprintf("127.0.0.1:%d", s.servers[serverID].Port())

		s.agents = append(s.agents, sim.NewAgent(
			uint32(i), serverID, addr, s.cfg.PacketSize,
			s.clock, gen, s.collector))
	}

	return nil
}

func (s *Simulation) startMonitor() {
	s.monitor = monitoring.NewMonitor()
	if s.monitorPort > 0 {
		s.monitor.WithPortNumber(s.monitorPort)
	}

	s.monitor.RegisterSimulation(s)
	s.monitor.RegisterCollector(s.collector)
	for _, srv := range s.servers {
		s.monitor.RegisterServer(srv)
	}

	s.monitor.StartServer()

	if s.openBrowser {
		s.monitor.OpenDashboard()
	}
}

func (s *Simulation) runLifecycle(ctx context.Context) error {
	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()
	agentCtx, stopAgents := context.WithCancel(context.Background())
	defer stopAgents()

	for _, srv := range s.servers {
		srv.Start(serveCtx)
	}

	var agentWG sync.WaitGroup
	for _, a := range s.agents {
		agentWG.Add(1)
		go func(a *sim.Agent) {
			defer agentWG.Done()
			_ = a.Run(agentCtx)
		}(a)
	}

	s.started = time.Now()
	s.state.Store(StateRunning)

	timedOut := make(chan struct{})
	watchdog := time.AfterFunc(s.cfg.Duration+watchdogSlack, func() {
		close(timedOut)
		stopAgents()
		stopServing()
	})
	defer watchdog.Stop()

	var aborted error
	select {
	case <-time.After(s.cfg.Duration):
	case <-timedOut:
		aborted = sim.ErrTimeout
	case <-ctx.Done():
		aborted = ctx.Err()
	}

	s.state.Store(StateDraining)

	stopAgents()
	agentWG.Wait()

	// Let in-flight arrivals land before the servers stop.
	time.Sleep(drainGrace)
	stopServing()

	serversDone := make(chan struct{})
	go func() {
		for _, srv := range s.servers {
			srv.Wait()
		}
		close(serversDone)
	}()

	select {
	case <-serversDone:
	case <-timedOut:
		if aborted == nil {
			aborted = sim.ErrTimeout
		}
	case <-time.After(watchdogSlack):
		if aborted == nil {
			aborted = sim.ErrTimeout
		}
	}

	s.collector.Stop()

	if aborted == nil && s.collector.Overflowed() {
		aborted = sim.ErrMetricsOverflow
	}

	return aborted
}

func (s *Simulation) assembleRecord(runErr error) *RunRecord {
	record := &RunRecord{
		ID:     s.id,
		Config: s.cfg,
		Status: StatusOK,
	}

	if runErr != nil {
		record.Status = FailedStatus(sim.Classify(runErr))
	}

	if s.collector != nil {
		record.Snapshots = s.collector.Snapshots()
		record.PerServer = s.collector.PerServer()
		record.PerFlow = s.collector.PerFlow()
		record.Aggregate = s.collector.Aggregate()
	}

	for _, srv := range s.servers {
		record.Ports = append(record.Ports, srv.Port())
	}

	return record
}

// failedRecord emits the partial record of a run that never started.
func (s *Simulation) failedRecord(err error) *RunRecord {
	s.state.Store(StateFinalized)

	return &RunRecord{
		ID:     s.id,
		Config: s.cfg,
		Status: FailedStatus(sim.Classify(err)),
	}
}

func (s *Simulation) teardownListeners() {
	// Bind errors can leave earlier servers listening; explicit teardown
	// completion keeps rapid re-runs from colliding on ports.
	for _, srv := range s.servers {
		srv.Close()
	}
}
