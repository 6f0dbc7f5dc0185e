package aqm

import (
	"math"
	"time"

	"github.com/flocklab/flocknet/sim"
)

// CoDel defaults.
const (
	codelTarget   = 5 * time.Millisecond
	codelInterval = 100 * time.Millisecond
)

// codelQueue is a FIFO that applies the CoDel state machine at dequeue.
// Packets whose sojourn stays above target for a full interval put the queue
// into the dropping state, where head packets are shed on the interval /
// sqrt(count) control law until a sojourn falls below target again.
//
// The same queue backs each FQ-CoDel bucket.
type codelQueue struct {
	target   time.Duration
	interval time.Duration

	buf []sim.Packet

	// firstAbove is when a sojourn first exceeded target in the current
	// window; zero means unset.
	firstAbove sim.Timestamp
	dropNext   sim.Timestamp
	count      uint32
	dropping   bool
}

func newCodelQueue(target, interval time.Duration) *codelQueue {
	return &codelQueue{target: target, interval: interval}
}

func (q *codelQueue) Push(p sim.Packet, _ sim.Timestamp) {
	q.buf = append(q.buf, p)
}

func (q *codelQueue) Len() int {
	return len(q.buf)
}

func (q *codelQueue) Clear() {
	q.buf = nil
	q.reset()
}

func (q *codelQueue) reset() {
	q.firstAbove = 0
	q.dropNext = 0
	q.count = 0
	q.dropping = false
}

func (q *codelQueue) head() (sim.Packet, bool) {
	if len(q.buf) == 0 {
		return sim.Packet{}, false
	}

	p := q.buf[0]
	q.buf = q.buf[1:]

	return p, true
}

// controlLaw returns the gap to the next drop for the current count.
func (q *codelQueue) controlLaw() time.Duration {
	return time.Duration(
		float64(q.interval) / math.Sqrt(float64(max(q.count, 1))))
}

// aboveTarget tracks the persistent-delay window. It returns true once the
// sojourn has stayed above target for a full interval.
func (q *codelQueue) aboveTarget(p sim.Packet, now sim.Timestamp) bool {
	if p.Sojourn(now) < q.target {
		q.firstAbove = 0
		return false
	}

	if q.firstAbove == 0 {
		q.firstAbove = now
		return false
	}

	return now.Sub(q.firstAbove) >= q.interval
}

func (q *codelQueue) Pop(now sim.Timestamp) (sim.Packet, []sim.Packet, bool) {
	p, ok := q.head()
	if !ok {
		q.dropping = false
		q.firstAbove = 0
		return sim.Packet{}, nil, false
	}

	var dropped []sim.Packet

	okToDrop := q.aboveTarget(p, now)

	switch {
	case q.dropping:
		if !okToDrop {
			q.dropping = false
			break
		}

		for q.dropping && now >= q.dropNext {
			dropped = append(dropped, p)
			q.count++

			p, ok = q.head()
			if !ok {
				q.dropping = false
				q.firstAbove = 0
				return sim.Packet{}, dropped, false
			}

			if !q.aboveTarget(p, now) {
				q.dropping = false
			} else {
				q.dropNext = q.dropNext.Add(q.controlLaw())
			}
		}

	case okToDrop:
		dropped = append(dropped, p)

		q.dropping = true

		// Re-entering soon after the last dropping episode resumes near
		// the previous drop rate instead of starting over.
		if now.Sub(q.dropNext) < 16*q.interval && q.count > 2 {
			q.count -= 2
		} else {
			q.count = 1
		}
		q.dropNext = now.Add(q.controlLaw())

		p, ok = q.head()
		if !ok {
			q.dropping = false
			q.firstAbove = 0
			return sim.Packet{}, dropped, false
		}
	}

	return p, dropped, true
}

// CoDel is the Controlled Delay strategy. All of its work happens inside the
// owned queue at dequeue; admission is left to the buffer bound.
type CoDel struct {
	q *codelQueue
}

// NewCoDel creates a CoDel strategy with the standard 5 ms / 100 ms tuning.
func NewCoDel() *CoDel {
	return &CoDel{q: newCodelQueue(codelTarget, codelInterval)}
}

// OwnQueue hands the CoDel-managed FIFO to the server.
func (c *CoDel) OwnQueue() sim.PacketQueue {
	return c.q
}

// Dropping exposes whether the queue is in the dropping state.
func (c *CoDel) Dropping() bool {
	return c.q.dropping
}

// OnEnqueue always accepts; CoDel sheds at dequeue.
func (c *CoDel) OnEnqueue(_ *sim.Packet, _ int, _ sim.Timestamp) sim.Verdict {
	return sim.Accept
}

// OnDequeue is a no-op; the owned queue already saw the dequeue.
func (c *CoDel) OnDequeue(_ int, _ sim.Timestamp) {}

// Update is a no-op; CoDel needs no periodic timer.
func (c *CoDel) Update(_ int, _ time.Duration, _ sim.Timestamp) {}

// Reset restores the initial state and empties the queue.
func (c *CoDel) Reset() {
	c.q.Clear()
}

// Name returns "CoDel".
func (c *CoDel) Name() string {
	return "CoDel"
}

// Clone returns a fresh instance with its own queue.
func (c *CoDel) Clone() sim.Strategy {
	return &CoDel{q: newCodelQueue(c.q.target, c.q.interval)}
}
