// Package metrics aggregates the event stream of a run into counters,
// periodic snapshots and a final aggregate. A single consumer goroutine owns
// all accumulator state; agents and servers only send events.
package metrics

// A Snapshot is a point-in-time metrics slice covering the interval since
// the previous snapshot.
type Snapshot struct {
	// T is the end of the covered interval, in seconds since run start.
	T float64 `json:"t"`

	// Interval counters.
	Sent      uint64 `json:"sent"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`

	// Interval statistics.
	ThroughputPPS float64 `json:"throughput_pps"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	LossRatio     float64 `json:"loss_ratio"`
	MeanQueueLen  float64 `json:"mean_queue_len"`
	JitterMs      float64 `json:"jitter_ms"`
}

// Aggregate is the whole-run accumulator view.
type Aggregate struct {
	Sent            uint64 `json:"sent"`
	Delivered       uint64 `json:"delivered"`
	DroppedStrategy uint64 `json:"dropped_strategy"`
	DroppedCapacity uint64 `json:"dropped_capacity"`

	// DroppedTransport counts packets an agent could not hand to a dead
	// connection. They never produced a PacketSent event, so they sit
	// outside the sent = delivered + dropped + in_flight accounting and
	// outside LossRatio.
	DroppedTransport uint64 `json:"dropped_transport"`

	// InFlight is what was sent but neither delivered nor dropped when the
	// run stopped.
	InFlight uint64 `json:"in_flight"`

	DurationSeconds float64 `json:"duration_seconds"`
	ThroughputPPS   float64 `json:"throughput_pps"`
	MeanLatencyMs   float64 `json:"mean_latency_ms"`
	P95LatencyMs    float64 `json:"p95_latency_ms"`
	LossRatio       float64 `json:"loss_ratio"`
	MeanQueueLen    float64 `json:"mean_queue_len"`
	JitterMs        float64 `json:"jitter_ms"`
}

// ServerStats is the final per-server slice of the accumulator.
type ServerStats struct {
	ServerID        uint32  `json:"server_id"`
	Delivered       uint64  `json:"delivered"`
	DroppedStrategy uint64  `json:"dropped_strategy"`
	DroppedCapacity uint64  `json:"dropped_capacity"`
	IdleTicks       uint64  `json:"idle_ticks"`
	MeanLatencyMs   float64 `json:"mean_latency_ms"`
	MeanQueueLen    float64 `json:"mean_queue_len"`
}

// FlowStats is the per-flow slice, keyed by source agent. Dropped covers
// the queue drops (strategy and capacity); transport-failed packets are
// reported apart because they were never counted as sent.
type FlowStats struct {
	AgentID          uint32  `json:"agent_id"`
	Sent             uint64  `json:"sent"`
	Delivered        uint64  `json:"delivered"`
	Dropped          uint64  `json:"dropped"`
	DroppedTransport uint64  `json:"dropped_transport"`
	LossRatio        float64 `json:"loss_ratio"`
	JitterMs         float64 `json:"jitter_ms"`
}
