package aqm

import (
	"time"

	"github.com/iti/rngstream"

	"github.com/flocklab/flocknet/sim"
)

// RED defaults. Thresholds are fractions of the buffer capacity.
const (
	redWeight     = 0.002
	redMinThFrac  = 0.1
	redMaxThFrac  = 0.3
	redMaxPStart  = 0.1
	redAdaptEvery = 500 * time.Millisecond
	redMaxPCeil   = 0.5
	redMaxPFloor  = 0.01
)

// RED implements Random Early Detection: an EWMA of the queue length drives
// a drop probability that ramps linearly between two thresholds.
type RED struct {
	minTh float64
	maxTh float64
	maxP  float64
	w     float64

	avg float64
	rng *rngstream.RngStream
}

// NewRED creates a RED strategy sized for the given buffer capacity.
func NewRED(capacity int, rng *rngstream.RngStream) *RED {
	return &RED{
		minTh: float64(capacity) * redMinThFrac,
		maxTh: float64(capacity) * redMaxThFrac,
		maxP:  redMaxPStart,
		w:     redWeight,
		rng:   rng,
	}
}

// Avg exposes the current queue length EWMA.
func (r *RED) Avg() float64 {
	return r.avg
}

// MaxP exposes the current maximum drop probability.
func (r *RED) MaxP() float64 {
	return r.maxP
}

// OnEnqueue folds the instantaneous queue length into the EWMA on every
// attempt and applies the threshold decision.
func (r *RED) OnEnqueue(_ *sim.Packet, queueLen int, _ sim.Timestamp) sim.Verdict {
	r.avg = (1-r.w)*r.avg + r.w*float64(queueLen)

	switch {
	case r.avg < r.minTh:
		return sim.Accept
	case r.avg >= r.maxTh:
		return sim.Drop
	}

	p := r.maxP * (r.avg - r.minTh) / (r.maxTh - r.minTh)
	if r.rng.RandU01() < p {
		return sim.Drop
	}

	return sim.Accept
}

// OnDequeue is a no-op; RED only watches arrivals.
func (r *RED) OnDequeue(_ int, _ sim.Timestamp) {}

// Update is a no-op in plain RED.
func (r *RED) Update(_ int, _ time.Duration, _ sim.Timestamp) {}

// Reset clears the EWMA and restores the initial maximum drop probability.
func (r *RED) Reset() {
	r.avg = 0
	r.maxP = redMaxPStart
}

// Name returns "RED".
func (r *RED) Name() string {
	return "RED"
}

// Clone returns a fresh instance with the same thresholds and stream.
func (r *RED) Clone() sim.Strategy {
	c := *r
	c.Reset()
	return &c
}

// AdaptiveRED wraps RED and retunes max_p every 500 ms: multiplicative
// increase while the average sits above the target band, multiplicative
// decrease below it.
type AdaptiveRED struct {
	RED

	targetLow  float64
	targetHigh float64
	lastAdapt  sim.Timestamp
}

// NewAdaptiveRED creates an Adaptive RED strategy. The target band is
// centered on the threshold midpoint, spanning half the threshold range.
func NewAdaptiveRED(capacity int, rng *rngstream.RngStream) *AdaptiveRED {
	red := NewRED(capacity, rng)

	center := (red.minTh + red.maxTh) / 2
	halfBand := (red.maxTh - red.minTh) / 4

	return &AdaptiveRED{
		RED:        *red,
		targetLow:  center - halfBand,
		targetHigh: center + halfBand,
	}
}

// Update adapts max_p multiplicatively once per adaptation period.
func (a *AdaptiveRED) Update(queueLen int, avgSojourn time.Duration, now sim.Timestamp) {
	if now.Sub(a.lastAdapt) < redAdaptEvery {
		return
	}
	a.lastAdapt = now

	switch {
	case a.avg > a.targetHigh:
		a.maxP = min(a.maxP*1.5, redMaxPCeil)
	case a.avg < a.targetLow:
		a.maxP = max(a.maxP*0.5, redMaxPFloor)
	}
}

// Reset restores RED state and the adaptation timer.
func (a *AdaptiveRED) Reset() {
	a.RED.Reset()
	a.lastAdapt = 0
}

// Name returns "Adaptive-RED".
func (a *AdaptiveRED) Name() string {
	return "Adaptive-RED"
}

// Clone returns a fresh instance with the same band and stream.
func (a *AdaptiveRED) Clone() sim.Strategy {
	c := *a
	c.Reset()
	return &c
}
