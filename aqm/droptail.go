package aqm

import (
	"time"

	"github.com/flocklab/flocknet/sim"
)

// DropTail is the baseline: packets enter until the buffer is full. It makes
// no admission decision of its own, so every loss it causes is a
// capacity-drop applied by the server's buffer bound.
type DropTail struct {
	name string
}

// NewDropTail creates a drop-tail strategy.
func NewDropTail() *DropTail {
	return &DropTail{name: "DropTail"}
}

// NewFIFO creates the FIFO alias of drop-tail.
func NewFIFO() *DropTail {
	return &DropTail{name: "FIFO"}
}

// OnEnqueue always accepts; the buffer bound does the dropping.
func (d *DropTail) OnEnqueue(_ *sim.Packet, _ int, _ sim.Timestamp) sim.Verdict {
	return sim.Accept
}

// OnDequeue is a no-op; drop-tail has no state.
func (d *DropTail) OnDequeue(_ int, _ sim.Timestamp) {}

// Update is a no-op.
func (d *DropTail) Update(_ int, _ time.Duration, _ sim.Timestamp) {}

// Reset is a no-op.
func (d *DropTail) Reset() {}

// Name returns the display name.
func (d *DropTail) Name() string {
	return d.name
}

// Clone returns an equivalent instance.
func (d *DropTail) Clone() sim.Strategy {
	c := *d
	return &c
}
