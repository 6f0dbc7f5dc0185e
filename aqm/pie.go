package aqm

import (
	"time"

	"github.com/iti/rngstream"

	"github.com/flocklab/flocknet/sim"
)

// PIE defaults.
const (
	pieTarget         = 20 * time.Millisecond
	pieUpdateEvery    = 15 * time.Millisecond
	pieAlpha          = 0.125
	pieBeta           = 1.25
	pieBurstAllowance = 150 * time.Millisecond
	pieBurstResetLen  = 10
	pieRateSmoothing  = 0.9
)

// PIE is the Proportional Integral controller Enhanced strategy: a drop
// probability driven by the estimated queuing delay and its trend. The
// probability update runs on its own 15 ms timer, evaluated lazily from the
// enqueue and dequeue paths so no extra ticker is needed.
type PIE struct {
	target         time.Duration
	updateEvery    time.Duration
	alpha          float64
	beta           float64
	burstAllowance time.Duration

	bandwidthPPS float64
	rng          *rngstream.RngStream

	dropProb   float64
	prevDelay  float64
	lastUpdate sim.Timestamp
	burstStart sim.Timestamp

	// Departure counting for the delay estimate's rate denominator.
	departures    int
	departureRate float64
}

// NewPIE creates a PIE strategy. bandwidthPPS seeds the departure rate
// estimate before the moving window has seen any traffic.
func NewPIE(bandwidthPPS float64, rng *rngstream.RngStream) *PIE {
	return &PIE{
		target:         pieTarget,
		updateEvery:    pieUpdateEvery,
		alpha:          pieAlpha,
		beta:           pieBeta,
		burstAllowance: pieBurstAllowance,
		bandwidthPPS:   bandwidthPPS,
		rng:            rng,
		departureRate:  bandwidthPPS,
	}
}

// P exposes the current drop probability.
func (p *PIE) P() float64 {
	return p.dropProb
}

// OnEnqueue applies the probabilistic drop, except during the burst
// allowance that follows a rising queue.
func (p *PIE) OnEnqueue(_ *sim.Packet, queueLen int, now sim.Timestamp) sim.Verdict {
	p.maybeUpdate(queueLen, now)

	// While the queue is short, keep refreshing the burst window; the
	// first 150 ms of a rising queue then bypass drops.
	if queueLen < pieBurstResetLen {
		p.burstStart = now
	}
	if now.Sub(p.burstStart) < p.burstAllowance {
		return sim.Accept
	}

	if p.dropProb > 0 && p.rng.RandU01() < p.dropProb {
		return sim.Drop
	}

	return sim.Accept
}

// OnDequeue counts departures for the rate estimate.
func (p *PIE) OnDequeue(queueLen int, now sim.Timestamp) {
	p.departures++
	p.maybeUpdate(queueLen, now)
}

// Update participates in the lazy timer as well.
func (p *PIE) Update(queueLen int, _ time.Duration, now sim.Timestamp) {
	p.maybeUpdate(queueLen, now)
}

// maybeUpdate runs the PI controller once per update period.
func (p *PIE) maybeUpdate(queueLen int, now sim.Timestamp) {
	if p.lastUpdate != 0 && now.Sub(p.lastUpdate) < p.updateEvery {
		return
	}

	if p.lastUpdate != 0 {
		elapsed := now.Sub(p.lastUpdate).Seconds()
		if p.departures > 0 && elapsed > 0 {
			inst := float64(p.departures) / elapsed
			p.departureRate = pieRateSmoothing*p.departureRate +
				(1-pieRateSmoothing)*inst
		}
	}
	p.departures = 0
	p.lastUpdate = now

	var delay float64
	if p.departureRate > 0 {
		delay = float64(queueLen) / p.departureRate
	}

	target := p.target.Seconds()
	p.dropProb += p.alpha*(delay-target) + p.beta*(delay-p.prevDelay)
	p.dropProb = min(max(p.dropProb, 0), 1)
	p.prevDelay = delay
}

// Reset restores the zero drop probability and the rate estimate.
func (p *PIE) Reset() {
	p.dropProb = 0
	p.prevDelay = 0
	p.lastUpdate = 0
	p.burstStart = 0
	p.departures = 0
	p.departureRate = p.bandwidthPPS
}

// Name returns "PIE".
func (p *PIE) Name() string {
	return "PIE"
}

// Clone returns a fresh instance sharing the stream.
func (p *PIE) Clone() sim.Strategy {
	c := *p
	c.Reset()
	return &c
}
