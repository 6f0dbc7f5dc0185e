package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantGeneratorDelay(t *testing.T) {
	gen, err := NewGenerator(TrafficSpec{Pattern: "constant", Rate: 100}, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.Equal(t, 10*time.Millisecond, gen.NextDelay())
	}
}

func TestBurstyGeneratorCycle(t *testing.T) {
	gen, err := NewGenerator(TrafficSpec{
		Pattern:     "bursty",
		BurstSize:   3,
		BurstPeriod: time.Second,
	}, nil)
	require.NoError(t, err)

	for cycle := 0; cycle < 2; cycle++ {
		for i := 0; i < 3; i++ {
			assert.Equal(t, time.Duration(0), gen.NextDelay(),
				"burst packets are back to back")
		}
		assert.Equal(t, time.Second, gen.NextDelay(),
			"one period between bursts")
	}

	gen.Reset()
	assert.Equal(t, time.Duration(0), gen.NextDelay())
}

func TestPeakGeneratorPiecewise(t *testing.T) {
	gen, err := NewGenerator(TrafficSpec{
		Pattern:      "peak",
		BaseRate:     10,
		PeakRate:     100,
		PeakDuration: 100 * time.Millisecond,
		Cycle:        time.Second,
	}, nil)
	require.NoError(t, err)

	// First 100 ms of the cycle at the peak rate: ten 10 ms delays.
	for i := 0; i < 10; i++ {
		assert.Equal(t, 10*time.Millisecond, gen.NextDelay())
	}

	// Remainder of the cycle at the base rate: nine 100 ms delays.
	for i := 0; i < 9; i++ {
		assert.Equal(t, 100*time.Millisecond, gen.NextDelay())
	}

	// The next delay wraps into a new cycle's peak phase.
	assert.Equal(t, 10*time.Millisecond, gen.NextDelay())
}

func TestPoissonGeneratorDeterministicUnderSeed(t *testing.T) {
	spec := TrafficSpec{Pattern: "poisson", Rate: 200}

	SeedStreams(99)
	gen1, err := NewGenerator(spec, NewAgentRNG(0))
	require.NoError(t, err)

	first := make([]time.Duration, 32)
	for i := range first {
		first[i] = gen1.NextDelay()
	}

	SeedStreams(99)
	gen2, err := NewGenerator(spec, NewAgentRNG(0))
	require.NoError(t, err)

	for i := range first {
		assert.Equal(t, first[i], gen2.NextDelay(),
			"same seed must reproduce the schedule")
	}

	var sum time.Duration
	for _, d := range first {
		assert.GreaterOrEqual(t, d, time.Duration(0))
		sum += d
	}
	mean := sum / time.Duration(len(first))
	assert.InEpsilon(t, float64(5*time.Millisecond), float64(mean), 1.0,
		"mean inter-arrival should be in the order of 1/lambda")
}

func TestPoissonGeneratorReset(t *testing.T) {
	SeedStreams(123)
	gen, err := NewGenerator(
		TrafficSpec{Pattern: "poisson", Rate: 50}, NewAgentRNG(3))
	require.NoError(t, err)

	first := gen.NextDelay()
	gen.NextDelay()
	gen.NextDelay()

	gen.Reset()
	assert.Equal(t, first, gen.NextDelay(),
		"reset rewinds to the start of the sequence")
}

func TestGeneratorRejectsBadSpecs(t *testing.T) {
	bad := []TrafficSpec{
		{Pattern: "constant", Rate: 0},
		{Pattern: "bursty", BurstSize: 0, BurstPeriod: time.Second},
		{Pattern: "poisson", Rate: -1},
		{Pattern: "peak", BaseRate: 10, PeakRate: 100,
			PeakDuration: time.Second, Cycle: time.Second},
		{Pattern: "unknown"},
	}

	for _, spec := range bad {
		_, err := NewGenerator(spec, nil)
		assert.ErrorIs(t, err, ErrConfigInvalid, "spec %+v", spec)
	}
}
