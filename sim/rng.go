package sim

import (
	"fmt"
	"math"

	"github.com/iti/rngstream"
)

// SeedStreams seeds the package-level rngstream state. Streams created
// afterwards are a deterministic function of the seed and the creation
// order, so the simulation creates all agent and server streams in id order
// during initialization. A zero seed leaves the package default seeding in
// place.
func SeedStreams(seed uint64) {
	if seed == 0 {
		return
	}

	rngstream.SetRngStreamMasterSeed(seed)
}

// NewAgentRNG creates the RNG stream that drives agent id's traffic
// generator.
func NewAgentRNG(id uint32) *rngstream.RngStream {
	return rngstream.New(fmt.Sprintf("agent-%04d", id))
}

// NewServerRNG creates the RNG stream a server hands to its strategy for
// probabilistic admission decisions.
func NewServerRNG(id uint32) *rngstream.RngStream {
	return rngstream.New(fmt.Sprintf("server-%04d", id))
}

// Exponential draws from the exponential distribution with the given mean
// using inversion sampling on the stream.
func Exponential(rng *rngstream.RngStream, mean float64) float64 {
	u := rng.RandU01()
	for u <= 0 {
		u = rng.RandU01()
	}

	return -mean * math.Log(u)
}
