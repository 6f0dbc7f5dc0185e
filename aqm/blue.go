package aqm

import (
	"math"
	"time"

	"github.com/iti/rngstream"

	"github.com/flocklab/flocknet/sim"
)

// BLUE defaults.
const (
	blueIncrement = 0.0025
	blueDecrement = 0.00025
	blueFreeze    = 100 * time.Millisecond
)

// blueNever is earlier than any timestamp a run can produce, so the first
// overflow or idle event is never frozen out.
const blueNever = sim.Timestamp(math.MinInt64 / 2)

// BLUE keeps a single drop probability that rises on buffer overflow and
// decays on link idle, each rate-limited by a freeze period.
type BLUE struct {
	p            float64
	lastIncrease sim.Timestamp
	lastDecrease sim.Timestamp
	rng          *rngstream.RngStream
}

// NewBLUE creates a BLUE strategy with zero initial drop probability.
func NewBLUE(rng *rngstream.RngStream) *BLUE {
	return &BLUE{
		lastIncrease: blueNever,
		lastDecrease: blueNever,
		rng:          rng,
	}
}

// P exposes the current drop probability.
func (b *BLUE) P() float64 {
	return b.p
}

// OnEnqueue drops with the current probability.
func (b *BLUE) OnEnqueue(_ *sim.Packet, _ int, _ sim.Timestamp) sim.Verdict {
	if b.p > 0 && b.rng.RandU01() < b.p {
		return sim.Drop
	}

	return sim.Accept
}

// OnOverflow raises the drop probability, at most once per freeze period.
func (b *BLUE) OnOverflow(now sim.Timestamp) {
	if now.Sub(b.lastIncrease) < blueFreeze {
		return
	}

	b.p = min(b.p+blueIncrement, 1)
	b.lastIncrease = now
}

// OnIdle lowers the drop probability, at most once per freeze period.
func (b *BLUE) OnIdle(now sim.Timestamp) {
	if now.Sub(b.lastDecrease) < blueFreeze {
		return
	}

	b.p = max(b.p-blueDecrement, 0)
	b.lastDecrease = now
}

// OnDequeue is a no-op; BLUE reacts to overflow and idle events only.
func (b *BLUE) OnDequeue(_ int, _ sim.Timestamp) {}

// Update is a no-op.
func (b *BLUE) Update(_ int, _ time.Duration, _ sim.Timestamp) {}

// Reset restores the zero drop probability.
func (b *BLUE) Reset() {
	b.p = 0
	b.lastIncrease = blueNever
	b.lastDecrease = blueNever
}

// Name returns "BLUE".
func (b *BLUE) Name() string {
	return "BLUE"
}

// Clone returns a fresh instance sharing the stream.
func (b *BLUE) Clone() sim.Strategy {
	c := *b
	c.Reset()
	return &c
}
