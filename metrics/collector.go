package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iti/rngstream"

	"github.com/flocklab/flocknet/sim"
)

// SnapshotInterval is the cadence of periodic snapshots.
const SnapshotInterval = time.Second

// Reservoir sizes for whole-run and per-interval quantiles.
const (
	runReservoirSize      = 4096
	intervalReservoirSize = 1024
)

// Channel sizing bounds. The event channel depth is servers × bandwidth × 2
// events, clamped to this range.
const (
	minChannelDepth = 4096
	maxChannelDepth = 1 << 20
)

// intervalAcc accumulates one snapshot interval. Events are attributed by
// their event time, so an interval stays open for one extra tick to absorb
// events that arrive late through the channel.
type intervalAcc struct {
	index int

	sent      uint64
	delivered uint64
	dropped   uint64

	latSumMs  float64
	latCount  uint64
	latSample *reservoir

	queueSum     uint64
	queueSamples uint64

	jitter map[uint32]*welford
}

func newIntervalAcc(index int, rng *rngstream.RngStream) *intervalAcc {
	return &intervalAcc{
		index:     index,
		latSample: newReservoir(intervalReservoirSize, rng),
		jitter:    make(map[uint32]*welford),
	}
}

func (a *intervalAcc) snapshot() Snapshot {
	interval := SnapshotInterval.Seconds()

	s := Snapshot{
		T:             float64(a.index+1) * interval,
		Sent:          a.sent,
		Delivered:     a.delivered,
		Dropped:       a.dropped,
		ThroughputPPS: float64(a.delivered) / interval,
		P95LatencyMs:  a.latSample.quantile(0.95),
		MeanQueueLen:  0,
	}

	if a.latCount > 0 {
		s.MeanLatencyMs = a.latSumMs / float64(a.latCount)
	}
	if a.sent > 0 {
		s.LossRatio = float64(a.dropped) / float64(a.sent)
	}
	if a.queueSamples > 0 {
		s.MeanQueueLen = float64(a.queueSum) / float64(a.queueSamples)
	}

	s.JitterMs = meanAgentStddev(a.jitter)

	return s
}

func meanAgentStddev(perAgent map[uint32]*welford) float64 {
	var sum float64
	var n int

	for _, w := range perAgent {
		if w.n < 2 {
			continue
		}
		sum += w.stddev()
		n++
	}

	if n == 0 {
		return 0
	}

	return sum / float64(n)
}

// serverAcc is the whole-run accumulator for one server.
type serverAcc struct {
	delivered       uint64
	droppedStrategy uint64
	droppedCapacity uint64
	idleTicks       uint64
	latSumMs        float64
	latCount        uint64
	queueSum        uint64
	queueSamples    uint64
}

// flowAcc is the whole-run accumulator for one source agent. Transport
// drops are tracked apart from the queue drops: a transport-failed packet
// never produced a PacketSent event, so it must stay out of any
// sent-relative ratio.
type flowAcc struct {
	sent             uint64
	delivered        uint64
	dropped          uint64
	droppedTransport uint64

	prevSojournMs float64
	hasPrev       bool
	jitter        welford
}

// A Collector is the single writer of all metric state. Producers call Emit;
// one consumer goroutine folds events into the accumulator and derives
// snapshots.
type Collector struct {
	clock *sim.Clock

	ch         chan sim.Event
	quit       chan struct{}
	done       chan struct{}
	overflowed atomic.Bool
	stopped    atomic.Bool

	// Everything below is owned by the consumer goroutine.
	sent             uint64
	delivered        uint64
	droppedStrategy  uint64
	droppedCapacity  uint64
	droppedTransport uint64
	latSumMs         float64
	latCount         uint64
	latSample        *reservoir
	queueSum         uint64
	queueSamples     uint64
	perServer        map[uint32]*serverAcc
	perFlow          map[uint32]*flowAcc

	cur  *intervalAcc
	prev *intervalAcc

	// Published state, readable while the run is live.
	mu        sync.RWMutex
	snapshots []Snapshot
	stoppedAt sim.Timestamp
}

// NewCollector sizes the event channel for the run at servers ×
// bandwidth_pps × 2 events, at least minChannelDepth. The depth is capped at
// maxChannelDepth, which is also used for unlimited bandwidth; past the cap a
// server's share of the channel is less than twice its bandwidth.
func NewCollector(clock *sim.Clock, servers int, bandwidthPPS float64) *Collector {
	depth := maxChannelDepth
	if want := float64(servers) * bandwidthPPS * 2; !math.IsInf(want, 1) &&
		want < maxChannelDepth {
		depth = max(int(want), minChannelDepth)
	}

	rng := rngstream.New("metrics")

	return &Collector{
		clock:     clock,
		ch:        make(chan sim.Event, depth),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		latSample: newReservoir(runReservoirSize, rng),
		perServer: make(map[uint32]*serverAcc),
		perFlow:   make(map[uint32]*flowAcc),
		cur:       newIntervalAcc(0, rng),
	}
}

// Emit delivers an event without ever blocking the hot path. It returns
// false when the channel is saturated; the run treats that as fatal
// mis-sizing, not as silence.
func (c *Collector) Emit(e sim.Event) bool {
	if c.stopped.Load() {
		return true
	}

	select {
	case c.ch <- e:
		return true
	default:
		c.overflowed.Store(true)
		return false
	}
}

// Overflowed reports whether any event was lost to channel saturation.
func (c *Collector) Overflowed() bool {
	return c.overflowed.Load()
}

// Start launches the consumer goroutine.
func (c *Collector) Start() {
	go c.run()
}

// Stop drains the channel, closes all open intervals and finalizes the
// accumulator. It must be called exactly once, after all producers stopped.
func (c *Collector) Stop() {
	c.stopped.Store(true)
	close(c.quit)
	<-c.done
}

func (c *Collector) run() {
	defer close(c.done)

	tick := time.NewTicker(SnapshotInterval)
	defer tick.Stop()

	for {
		select {
		case e := <-c.ch:
			c.consume(e)
		case <-tick.C:
			c.rollTo(c.indexOf(c.clock.Now()))
		case <-c.quit:
			c.drain()
			return
		}
	}
}

// drain consumes everything still buffered, then closes open intervals.
func (c *Collector) drain() {
	for {
		select {
		case e := <-c.ch:
			c.consume(e)
		default:
			now := c.clock.Now()

			c.mu.Lock()
			c.stoppedAt = now
			c.mu.Unlock()

			c.closeIntervals()
			return
		}
	}
}

func (c *Collector) indexOf(t sim.Timestamp) int {
	return int(time.Duration(t) / SnapshotInterval)
}

// rollTo advances the open interval pair so that cur covers index. Each
// roll finalizes the interval that falls out of the two-slot window, which
// keeps snapshot timestamps strictly increasing.
func (c *Collector) rollTo(index int) {
	for c.cur.index < index {
		if c.prev != nil {
			c.publish(c.prev.snapshot())
		}
		c.prev = c.cur
		c.cur = newIntervalAcc(c.prev.index+1, c.latSample.rng)
	}
}

func (c *Collector) closeIntervals() {
	if c.prev != nil {
		c.publish(c.prev.snapshot())
	}

	// The final, partial interval is only published if it saw any events;
	// a duration-zero run therefore produces no snapshots.
	last := c.cur
	if last.sent > 0 || last.delivered > 0 || last.dropped > 0 ||
		last.queueSamples > 0 {
		c.publish(last.snapshot())
	}

	c.prev = nil
}

func (c *Collector) publish(s Snapshot) {
	c.mu.Lock()
	c.snapshots = append(c.snapshots, s)
	c.mu.Unlock()
}

// intervalFor picks the open interval an event belongs to by event time.
// Events older than the two-slot window are folded into prev so nothing is
// ever silently unaccounted.
func (c *Collector) intervalFor(at sim.Timestamp) *intervalAcc {
	index := c.indexOf(at)

	c.rollTo(index)

	if index >= c.cur.index {
		return c.cur
	}
	if c.prev != nil {
		return c.prev
	}

	return c.cur
}

func (c *Collector) consume(e sim.Event) {
	acc := c.intervalFor(e.At)

	switch e.Kind {
	case sim.PacketSent:
		c.sent++
		acc.sent++
		c.flow(e.AgentID).sent++

	case sim.PacketDelivered:
		srv := c.server(e.ServerID)
		flow := c.flow(e.AgentID)
		ms := e.Sojourn.Seconds() * 1000

		c.delivered++
		c.latSumMs += ms
		c.latCount++
		c.latSample.add(ms)

		acc.delivered++
		acc.latSumMs += ms
		acc.latCount++
		acc.latSample.add(ms)

		srv.delivered++
		srv.latSumMs += ms
		srv.latCount++

		flow.delivered++
		if flow.hasPrev {
			diff := math.Abs(ms - flow.prevSojournMs)
			flow.jitter.add(diff)

			w, ok := acc.jitter[e.AgentID]
			if !ok {
				w = &welford{}
				acc.jitter[e.AgentID] = w
			}
			w.add(diff)
		}
		flow.prevSojournMs = ms
		flow.hasPrev = true

	case sim.DropStrategy:
		c.droppedStrategy++
		acc.dropped++
		c.server(e.ServerID).droppedStrategy++
		c.flow(e.AgentID).dropped++

	case sim.DropCapacity:
		c.droppedCapacity++
		acc.dropped++
		c.server(e.ServerID).droppedCapacity++
		c.flow(e.AgentID).dropped++

	case sim.DropTransport:
		// No PacketSent was ever emitted for this packet, so it stays out
		// of the interval drop counter and every sent-relative ratio.
		c.droppedTransport++
		c.flow(e.AgentID).droppedTransport++

	case sim.QueueSample:
		srv := c.server(e.ServerID)
		c.queueSum += uint64(e.QueueLen)
		c.queueSamples++
		acc.queueSum += uint64(e.QueueLen)
		acc.queueSamples++
		srv.queueSum += uint64(e.QueueLen)
		srv.queueSamples++

	case sim.Idle:
		c.server(e.ServerID).idleTicks++
	}
}

func (c *Collector) server(id uint32) *serverAcc {
	s, ok := c.perServer[id]
	if !ok {
		s = &serverAcc{}
		c.perServer[id] = s
	}

	return s
}

func (c *Collector) flow(id uint32) *flowAcc {
	f, ok := c.perFlow[id]
	if !ok {
		f = &flowAcc{}
		c.perFlow[id] = f
	}

	return f
}

// Snapshots returns the published snapshot series. Safe while running.
func (c *Collector) Snapshots() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Snapshot, len(c.snapshots))
	copy(out, c.snapshots)

	return out
}

// Latest returns the most recent snapshot, if any. Safe while running.
func (c *Collector) Latest() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.snapshots) == 0 {
		return Snapshot{}, false
	}

	return c.snapshots[len(c.snapshots)-1], true
}

// Aggregate derives the whole-run view. Valid after Stop. InFlight and
// LossRatio are computed against the queue drops only: transport-failed
// packets were never counted as sent.
func (c *Collector) Aggregate() Aggregate {
	dropped := c.droppedStrategy + c.droppedCapacity

	agg := Aggregate{
		Sent:             c.sent,
		Delivered:        c.delivered,
		DroppedStrategy:  c.droppedStrategy,
		DroppedCapacity:  c.droppedCapacity,
		DroppedTransport: c.droppedTransport,
		P95LatencyMs:     c.latSample.quantile(0.95),
	}

	if c.sent >= c.delivered+dropped {
		agg.InFlight = c.sent - c.delivered - dropped
	}

	c.mu.RLock()
	agg.DurationSeconds = c.stoppedAt.Seconds()
	c.mu.RUnlock()

	if agg.DurationSeconds > 0 {
		agg.ThroughputPPS = float64(c.delivered) / agg.DurationSeconds
	}
	if c.latCount > 0 {
		agg.MeanLatencyMs = c.latSumMs / float64(c.latCount)
	}
	if c.sent > 0 {
		agg.LossRatio = float64(dropped) / float64(c.sent)
	}
	if c.queueSamples > 0 {
		agg.MeanQueueLen = float64(c.queueSum) / float64(c.queueSamples)
	}

	perAgent := make(map[uint32]*welford, len(c.perFlow))
	for id, f := range c.perFlow {
		w := f.jitter
		perAgent[id] = &w
	}
	agg.JitterMs = meanAgentStddev(perAgent)

	return agg
}

// PerServer returns the final per-server statistics, ordered by id. Valid
// after Stop.
func (c *Collector) PerServer() []ServerStats {
	out := make([]ServerStats, 0, len(c.perServer))

	for id, s := range c.perServer {
		stats := ServerStats{
			ServerID:        id,
			Delivered:       s.delivered,
			DroppedStrategy: s.droppedStrategy,
			DroppedCapacity: s.droppedCapacity,
			IdleTicks:       s.idleTicks,
		}
		if s.latCount > 0 {
			stats.MeanLatencyMs = s.latSumMs / float64(s.latCount)
		}
		if s.queueSamples > 0 {
			stats.MeanQueueLen = float64(s.queueSum) / float64(s.queueSamples)
		}
		out = append(out, stats)
	}

	sortServerStats(out)

	return out
}

// PerFlow returns the final per-flow statistics, ordered by agent id. Valid
// after Stop.
func (c *Collector) PerFlow() []FlowStats {
	out := make([]FlowStats, 0, len(c.perFlow))

	for id, f := range c.perFlow {
		stats := FlowStats{
			AgentID:          id,
			Sent:             f.sent,
			Delivered:        f.delivered,
			Dropped:          f.dropped,
			DroppedTransport: f.droppedTransport,
			JitterMs:         f.jitter.stddev(),
		}
		if f.sent > 0 {
			stats.LossRatio = float64(f.dropped) / float64(f.sent)
		}
		out = append(out, stats)
	}

	sortFlowStats(out)

	return out
}

func sortServerStats(xs []ServerStats) {
	sort.Slice(xs, func(i, j int) bool {
		return xs[i].ServerID < xs[j].ServerID
	})
}

func sortFlowStats(xs []FlowStats) {
	sort.Slice(xs, func(i, j int) bool {
		return xs[i].AgentID < xs[j].AgentID
	})
}
