package sim

import (
	"fmt"
	"time"

	"github.com/iti/rngstream"
)

// A TrafficGenerator produces a lazy, infinite sequence of inter-packet
// delays. Generators are single-owner: each agent drives exactly one.
type TrafficGenerator interface {
	// NextDelay returns the delay before the next packet is sent.
	NextDelay() time.Duration

	// Reset restores the generator to the start of its sequence.
	Reset()
}

// TrafficSpec selects and parameterizes a traffic pattern. It is part of the
// run configuration.
type TrafficSpec struct {
	// Pattern is one of "constant", "bursty", "poisson" or "peak".
	Pattern string `json:"pattern" yaml:"pattern"`

	// Rate is the packet rate for constant and poisson patterns; the other
	// patterns do not use it.
	Rate float64 `json:"rate" yaml:"rate"`

	// BurstSize and BurstPeriod parameterize the bursty pattern.
	BurstSize   int           `json:"burst_size" yaml:"burst_size"`
	BurstPeriod time.Duration `json:"burst_period" yaml:"burst_period"`

	// BaseRate, PeakRate, PeakDuration and Cycle parameterize the peak
	// pattern.
	BaseRate     float64       `json:"base_rate" yaml:"base_rate"`
	PeakRate     float64       `json:"peak_rate" yaml:"peak_rate"`
	PeakDuration time.Duration `json:"peak_duration" yaml:"peak_duration"`
	Cycle        time.Duration `json:"cycle" yaml:"cycle"`
}

// NewGenerator builds the generator for the spec. Poisson generators draw
// from rng; the other patterns ignore it.
func NewGenerator(spec TrafficSpec, rng *rngstream.RngStream) (TrafficGenerator, error) {
	switch spec.Pattern {
	case "constant":
		if spec.Rate <= 0 {
			return nil, fmt.Errorf("%w: constant rate must be positive",
				ErrConfigInvalid)
		}
		return &ConstantGenerator{rate: spec.Rate}, nil

	case "bursty":
		if spec.BurstSize <= 0 || spec.BurstPeriod <= 0 {
			return nil, fmt.Errorf(
				"%w: bursty needs burst size and period", ErrConfigInvalid)
		}
		return &BurstyGenerator{
			burstSize: spec.BurstSize,
			period:    spec.BurstPeriod,
		}, nil

	case "poisson":
		if spec.Rate <= 0 {
			return nil, fmt.Errorf("%w: poisson rate must be positive",
				ErrConfigInvalid)
		}
		return &PoissonGenerator{lambda: spec.Rate, rng: rng}, nil

	case "peak":
		if spec.BaseRate <= 0 || spec.PeakRate <= 0 ||
			spec.PeakDuration <= 0 || spec.Cycle <= spec.PeakDuration {
			return nil, fmt.Errorf(
				"%w: peak needs base rate, peak rate and a cycle longer "+
					"than the peak duration", ErrConfigInvalid)
		}
		return &PeakGenerator{
			baseRate:     spec.BaseRate,
			peakRate:     spec.PeakRate,
			peakDuration: spec.PeakDuration,
			cycle:        spec.Cycle,
		}, nil

	default:
		return nil, fmt.Errorf("%w: traffic pattern %q",
			ErrConfigInvalid, spec.Pattern)
	}
}

// A ConstantGenerator emits packets at a fixed rate.
type ConstantGenerator struct {
	rate float64
}

// NextDelay returns 1/rate.
func (g *ConstantGenerator) NextDelay() time.Duration {
	return time.Duration(float64(time.Second) / g.rate)
}

// Reset is a no-op; the sequence is memoryless.
func (g *ConstantGenerator) Reset() {}

// A BurstyGenerator emits bursts of back-to-back packets. Each cycle is
// burstSize zero delays followed by one delay of the burst period.
type BurstyGenerator struct {
	burstSize int
	period    time.Duration
	pos       int
}

// NextDelay returns zero within a burst and the burst period between bursts.
func (g *BurstyGenerator) NextDelay() time.Duration {
	if g.pos < g.burstSize {
		g.pos++
		return 0
	}

	g.pos = 0

	return g.period
}

// Reset restarts the cycle at the beginning of a burst.
func (g *BurstyGenerator) Reset() {
	g.pos = 0
}

// A PoissonGenerator draws delays from the exponential distribution with
// mean 1/lambda. With a seeded stream the sequence is reproducible
// regardless of scheduling.
type PoissonGenerator struct {
	lambda float64
	rng    *rngstream.RngStream
}

// NextDelay draws the next inter-arrival time.
func (g *PoissonGenerator) NextDelay() time.Duration {
	mean := float64(time.Second) / g.lambda

	return time.Duration(Exponential(g.rng, mean))
}

// Reset rewinds the RNG stream to its starting state.
func (g *PoissonGenerator) Reset() {
	g.rng.ResetStartStream()
}

// A PeakGenerator alternates between a peak rate and a base rate. For the
// first peakDuration of every cycle it emits at the peak rate, then at the
// base rate for the remainder. Position in the cycle is tracked by summing
// the returned delays, so the schedule is deterministic.
type PeakGenerator struct {
	baseRate     float64
	peakRate     float64
	peakDuration time.Duration
	cycle        time.Duration

	elapsed time.Duration
}

// NextDelay returns the delay for the current position in the cycle.
func (g *PeakGenerator) NextDelay() time.Duration {
	rate := g.baseRate
	if g.elapsed < g.peakDuration {
		rate = g.peakRate
	}

	d := time.Duration(float64(time.Second) / rate)
	g.elapsed = (g.elapsed + d) % g.cycle

	return d
}

// Reset restarts the cycle.
func (g *PeakGenerator) Reset() {
	g.elapsed = 0
}
