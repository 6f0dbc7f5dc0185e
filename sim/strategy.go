package sim

import "time"

//go:generate mockgen -destination "mock_sim_test.go" -package sim -write_package_comment=false github.com/flocklab/flocknet/sim EventSink,Strategy

// Verdict is an AQM admission decision.
type Verdict int

// The possible admission decisions.
const (
	Accept Verdict = iota
	Drop
)

func (v Verdict) String() string {
	if v == Accept {
		return "accept"
	}
	return "drop"
}

// A Strategy is a pluggable AQM decision object. A strategy instance is owned
// by exactly one ServerQueue and is only called from that server's service
// goroutine, so implementations need no locking. Strategy lifetime spans one
// run; Reset restores the initial state.
type Strategy interface {
	// OnEnqueue decides whether the arriving packet may enter the buffer.
	// queueLen is the occupancy before the packet enters.
	OnEnqueue(p *Packet, queueLen int, now Timestamp) Verdict

	// OnDequeue is called after a successful removal with the occupancy
	// after the removal.
	OnDequeue(queueLen int, now Timestamp)

	// Update is the periodic hook, invoked roughly every 100 ms.
	// avgSojourn is the mean sojourn of packets dequeued since the last
	// update, zero if none were.
	Update(queueLen int, avgSojourn time.Duration, now Timestamp)

	// Reset restores the initial state.
	Reset()

	// Name returns the strategy's display name.
	Name() string

	// Clone returns an independent instance with the same parameters and
	// initial state.
	Clone() Strategy
}

// QueueOwner is implemented by strategies that must control the packet store
// itself, either to drop at dequeue (CoDel) or to schedule across sub-queues
// (FQ-CoDel). The ServerQueue drains the owned queue instead of its FIFO
// buffer; the capacity bound still applies to the total occupancy.
type QueueOwner interface {
	OwnQueue() PacketQueue
}

// OverflowObserver is implemented by strategies that learn from
// would-drop-for-capacity events (BLUE).
type OverflowObserver interface {
	OnOverflow(now Timestamp)
}

// IdleObserver is implemented by strategies that learn from service ticks
// that found the queue empty (BLUE).
type IdleObserver interface {
	OnIdle(now Timestamp)
}
