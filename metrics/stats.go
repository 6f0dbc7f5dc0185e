package metrics

import (
	"math"
	"sort"

	"github.com/iti/rngstream"
	"gonum.org/v1/gonum/stat"
)

// welford accumulates mean and variance in one pass.
type welford struct {
	n    uint64
	mean float64
	m2   float64
}

func (w *welford) add(x float64) {
	w.n++
	delta := x - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (x - w.mean)
}

func (w *welford) stddev() float64 {
	if w.n < 2 {
		return 0
	}

	return math.Sqrt(w.m2 / float64(w.n-1))
}

// reservoir keeps a fixed-size uniform sample of a stream (algorithm R) for
// quantile estimation.
type reservoir struct {
	size int
	seen int
	xs   []float64
	rng  *rngstream.RngStream
}

func newReservoir(size int, rng *rngstream.RngStream) *reservoir {
	return &reservoir{
		size: size,
		xs:   make([]float64, 0, size),
		rng:  rng,
	}
}

func (r *reservoir) add(x float64) {
	r.seen++

	if len(r.xs) < r.size {
		r.xs = append(r.xs, x)
		return
	}

	j := r.rng.RandInt(0, r.seen-1)
	if j < r.size {
		r.xs[j] = x
	}
}

// quantile returns the p-quantile of the sample, 0 for an empty one.
func (r *reservoir) quantile(p float64) float64 {
	if len(r.xs) == 0 {
		return 0
	}

	sorted := make([]float64, len(r.xs))
	copy(sorted, r.xs)
	sort.Float64s(sorted)

	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

func (r *reservoir) clear() {
	r.xs = r.xs[:0]
	r.seen = 0
}
