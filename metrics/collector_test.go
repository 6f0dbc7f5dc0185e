package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flocklab/flocknet/sim"
)

func at(d time.Duration) sim.Timestamp {
	return sim.Timestamp(d)
}

func emitAll(t *testing.T, c *Collector, events []sim.Event) {
	t.Helper()
	for _, e := range events {
		require.True(t, c.Emit(e), "event channel must not saturate")
	}
}

func TestCollectorAccountingInvariant(t *testing.T) {
	c := NewCollector(sim.NewClock(), 1, 1000)
	c.Start()

	events := []sim.Event{
		{Kind: sim.PacketSent, AgentID: 1, At: at(10 * time.Millisecond)},
		{Kind: sim.PacketSent, AgentID: 1, At: at(20 * time.Millisecond)},
		{Kind: sim.PacketSent, AgentID: 2, At: at(30 * time.Millisecond)},
		{Kind: sim.PacketSent, AgentID: 2, At: at(40 * time.Millisecond)},
		{Kind: sim.PacketSent, AgentID: 2, At: at(50 * time.Millisecond)},

		{Kind: sim.PacketDelivered, AgentID: 1, ServerID: 0,
			At: at(60 * time.Millisecond), Sojourn: 5 * time.Millisecond},
		{Kind: sim.PacketDelivered, AgentID: 1, ServerID: 0,
			At: at(70 * time.Millisecond), Sojourn: 7 * time.Millisecond},

		{Kind: sim.DropStrategy, AgentID: 2, ServerID: 0,
			At: at(80 * time.Millisecond)},
		{Kind: sim.DropCapacity, AgentID: 2, ServerID: 0,
			At: at(90 * time.Millisecond)},

		// Transport failures never produced a PacketSent, so they must
		// stay out of the sent-relative accounting below.
		{Kind: sim.DropTransport, AgentID: 2, ServerID: 0,
			At: at(95 * time.Millisecond)},
		{Kind: sim.DropTransport, AgentID: 2, ServerID: 0,
			At: at(96 * time.Millisecond)},
	}
	emitAll(t, c, events)

	c.Stop()

	agg := c.Aggregate()
	assert.Equal(t, uint64(5), agg.Sent)
	assert.Equal(t, uint64(2), agg.Delivered)
	assert.Equal(t, uint64(1), agg.DroppedStrategy)
	assert.Equal(t, uint64(1), agg.DroppedCapacity)
	assert.Equal(t, uint64(2), agg.DroppedTransport)
	assert.Equal(t, uint64(1), agg.InFlight,
		"sent = delivered + dropped_strategy + dropped_capacity + in_flight")

	assert.InDelta(t, 6.0, agg.MeanLatencyMs, 1e-9)
	assert.InDelta(t, 0.4, agg.LossRatio, 1e-9)
	assert.LessOrEqual(t, agg.LossRatio, 1.0)
}

func TestCollectorTransportOnlyLossStaysBounded(t *testing.T) {
	c := NewCollector(sim.NewClock(), 1, 1000)
	c.Start()

	// An agent whose connection died before it ever delivered a frame:
	// every attempt is a transport drop, nothing was sent.
	var events []sim.Event
	for i := 0; i < 10; i++ {
		events = append(events, sim.Event{
			Kind: sim.DropTransport, AgentID: 3, ServerID: 0,
			At: at(time.Duration(i+1) * 10 * time.Millisecond),
		})
	}
	emitAll(t, c, events)

	c.Stop()

	agg := c.Aggregate()
	assert.Equal(t, uint64(0), agg.Sent)
	assert.Equal(t, uint64(10), agg.DroppedTransport)
	assert.Equal(t, uint64(0), agg.InFlight)
	assert.Equal(t, 0.0, agg.LossRatio,
		"loss ratio is relative to sent packets only")

	flows := c.PerFlow()
	require.Len(t, flows, 1)
	assert.Equal(t, uint64(0), flows[0].Sent)
	assert.Equal(t, uint64(0), flows[0].Dropped)
	assert.Equal(t, uint64(10), flows[0].DroppedTransport)
	assert.Equal(t, 0.0, flows[0].LossRatio)
}

func TestCollectorSnapshotTimestampsStrictlyIncrease(t *testing.T) {
	c := NewCollector(sim.NewClock(), 1, 1000)
	c.Start()

	var events []sim.Event
	for i := 0; i < 5; i++ {
		base := time.Duration(i) * time.Second
		events = append(events,
			sim.Event{Kind: sim.PacketSent, AgentID: 1,
				At: at(base + 100*time.Millisecond)},
			sim.Event{Kind: sim.PacketDelivered, AgentID: 1,
				At:      at(base + 200*time.Millisecond),
				Sojourn: time.Millisecond},
		)
	}
	emitAll(t, c, events)

	c.Stop()

	snapshots := c.Snapshots()
	require.NotEmpty(t, snapshots)

	prev := 0.0
	for _, s := range snapshots {
		assert.Greater(t, s.T, prev, "snapshot timestamps increase")
		prev = s.T
	}
}

func TestCollectorSnapshotDeltasSumToAggregate(t *testing.T) {
	c := NewCollector(sim.NewClock(), 1, 1000)
	c.Start()

	var events []sim.Event
	totalSent := 0
	for i := 0; i < 4; i++ {
		base := time.Duration(i) * time.Second
		for j := 0; j < 10; j++ {
			off := time.Duration(j) * 50 * time.Millisecond
			events = append(events, sim.Event{
				Kind: sim.PacketSent, AgentID: 1, At: at(base + off)})
			totalSent++
			events = append(events, sim.Event{
				Kind: sim.PacketDelivered, AgentID: 1,
				At:      at(base + off + 10*time.Millisecond),
				Sojourn: 2 * time.Millisecond})
		}
	}
	emitAll(t, c, events)

	c.Stop()

	var sent, delivered uint64
	for _, s := range c.Snapshots() {
		sent += s.Sent
		delivered += s.Delivered
	}

	agg := c.Aggregate()
	assert.Equal(t, agg.Sent, sent)
	assert.Equal(t, agg.Delivered, delivered)
	assert.Equal(t, uint64(totalSent), sent)
}

func TestCollectorEventTimeAttribution(t *testing.T) {
	c := NewCollector(sim.NewClock(), 1, 1000)
	c.Start()

	// An event from interval 0 arriving after interval 1 opened must still
	// land in interval 0's snapshot.
	emitAll(t, c, []sim.Event{
		{Kind: sim.PacketSent, AgentID: 1, At: at(1500 * time.Millisecond)},
		{Kind: sim.PacketSent, AgentID: 1, At: at(900 * time.Millisecond)},
	})

	c.Stop()

	snapshots := c.Snapshots()
	require.Len(t, snapshots, 2)
	assert.Equal(t, uint64(1), snapshots[0].Sent)
	assert.Equal(t, uint64(1), snapshots[1].Sent)
}

func TestCollectorPerFlowCounters(t *testing.T) {
	c := NewCollector(sim.NewClock(), 1, 1000)
	c.Start()

	emitAll(t, c, []sim.Event{
		{Kind: sim.PacketSent, AgentID: 1, At: at(time.Millisecond)},
		{Kind: sim.PacketSent, AgentID: 1, At: at(2 * time.Millisecond)},
		{Kind: sim.PacketSent, AgentID: 2, At: at(3 * time.Millisecond)},
		{Kind: sim.PacketDelivered, AgentID: 1,
			At: at(4 * time.Millisecond), Sojourn: time.Millisecond},
		{Kind: sim.DropStrategy, AgentID: 2,
			At: at(5 * time.Millisecond)},
	})

	c.Stop()

	flows := c.PerFlow()
	require.Len(t, flows, 2)

	assert.Equal(t, uint32(1), flows[0].AgentID)
	assert.Equal(t, uint64(2), flows[0].Sent)
	assert.Equal(t, uint64(1), flows[0].Delivered)

	assert.Equal(t, uint32(2), flows[1].AgentID)
	assert.Equal(t, uint64(1), flows[1].Dropped)
	assert.InDelta(t, 1.0, flows[1].LossRatio, 1e-9)
}

func TestCollectorPerServerStats(t *testing.T) {
	c := NewCollector(sim.NewClock(), 2, 1000)
	c.Start()

	emitAll(t, c, []sim.Event{
		{Kind: sim.PacketDelivered, ServerID: 0, AgentID: 1,
			At: at(time.Millisecond), Sojourn: 4 * time.Millisecond},
		{Kind: sim.QueueSample, ServerID: 0, AgentID: 1,
			At: at(2 * time.Millisecond), QueueLen: 6},
		{Kind: sim.DropCapacity, ServerID: 1, AgentID: 2,
			At: at(3 * time.Millisecond)},
		{Kind: sim.Idle, ServerID: 1, At: at(4 * time.Millisecond)},
	})

	c.Stop()

	servers := c.PerServer()
	require.Len(t, servers, 2)

	assert.Equal(t, uint64(1), servers[0].Delivered)
	assert.InDelta(t, 4.0, servers[0].MeanLatencyMs, 1e-9)
	assert.InDelta(t, 6.0, servers[0].MeanQueueLen, 1e-9)

	assert.Equal(t, uint64(1), servers[1].DroppedCapacity)
	assert.Equal(t, uint64(1), servers[1].IdleTicks)
}

func TestCollectorJitterIsMeanOfPerAgentStddev(t *testing.T) {
	c := NewCollector(sim.NewClock(), 1, 1000)
	c.Start()

	// Agent 1 has perfectly steady sojourns: zero jitter. Agent 2
	// alternates 1 ms and 5 ms: consecutive diffs are all 4 ms, whose
	// standard deviation is 0 as well, so the mean stays 0.
	var events []sim.Event
	for i := 0; i < 10; i++ {
		events = append(events, sim.Event{
			Kind: sim.PacketDelivered, AgentID: 1,
			At:      at(time.Duration(i+1) * 10 * time.Millisecond),
			Sojourn: 3 * time.Millisecond,
		})

		sojourn := time.Millisecond
		if i%2 == 1 {
			sojourn = 5 * time.Millisecond
		}
		events = append(events, sim.Event{
			Kind: sim.PacketDelivered, AgentID: 2,
			At:      at(time.Duration(i+1) * 10 * time.Millisecond),
			Sojourn: sojourn,
		})
	}
	emitAll(t, c, events)

	c.Stop()

	agg := c.Aggregate()
	assert.InDelta(t, 0.0, agg.JitterMs, 1e-9)
}

func TestCollectorQuantileAccuracy(t *testing.T) {
	c := NewCollector(sim.NewClock(), 1, 1000)
	c.Start()

	// Sojourns 1..1000 ms: the p95 must land within ±1 ms of 950.
	var events []sim.Event
	for i := 1; i <= 1000; i++ {
		events = append(events, sim.Event{
			Kind: sim.PacketDelivered, AgentID: 1,
			At:      at(time.Duration(i) * 100 * time.Microsecond),
			Sojourn: time.Duration(i) * time.Millisecond,
		})
	}
	emitAll(t, c, events)

	c.Stop()

	agg := c.Aggregate()
	assert.InDelta(t, 950.0, agg.P95LatencyMs, 1.0)
}

func TestCollectorOverflowIsReported(t *testing.T) {
	clock := sim.NewClock()

	c := NewCollector(clock, 1, 1000)
	// Deliberately do not Start: the channel fills and Emit must report
	// saturation instead of blocking.
	saturated := false
	for i := 0; i < maxChannelDepth+minChannelDepth; i++ {
		if !c.Emit(sim.Event{Kind: sim.PacketSent, AgentID: 1}) {
			saturated = true
			break
		}
	}

	assert.True(t, saturated)
	assert.True(t, c.Overflowed())
}
