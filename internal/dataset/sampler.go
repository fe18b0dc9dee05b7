package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// ClassWeights returns len(labels)/count for every class that occurs in
// labels and 0 for classes that do not.
func ClassWeights(labels []int, numClasses int) []float64 {
	counts := make([]int, numClasses)
	for _, l := range labels {
		counts[l]++
	}
	w := make([]float64, numClasses)
	for c, n := range counts {
		if n > 0 {
			w[c] = float64(len(labels)) / float64(n)
		}
	}
	return w
}

// SampleWeights gives every sample the inverse frequency weight of its class,
// so each class carries the same total weight.
func SampleWeights(labels []int, numClasses int) []float64 {
	cw := ClassWeights(labels, numClasses)
	out := make([]float64, len(labels))
	for i, l := range labels {
		out[i] = cw[l]
	}
	return out
}

// WeightedSampler draws indices with replacement, each with probability
// proportional to its weight.
type WeightedSampler struct {
	cum        []float64
	last       int
	numSamples int
	rng        *rand.Rand
}

// NewWeightedSampler builds a sampler that yields numSamples indices per
// epoch. Weights must be finite, non-negative and not all zero.
func NewWeightedSampler(weights []float64, numSamples int, rng *rand.Rand) (*WeightedSampler, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("sampler: no weights")
	}
	if numSamples < 0 {
		return nil, fmt.Errorf("sampler: negative sample count %d", numSamples)
	}
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("sampler: invalid weight %v at %d", w, i)
		}
	}
	cum := floats.CumSum(make([]float64, len(weights)), weights)
	if cum[len(cum)-1] <= 0 {
		return nil, fmt.Errorf("sampler: weights sum to zero")
	}
	last := len(weights) - 1
	for weights[last] == 0 {
		last--
	}
	return &WeightedSampler{cum: cum, last: last, numSamples: numSamples, rng: rng}, nil
}

// Len returns the number of indices drawn per call to Indices.
func (s *WeightedSampler) Len() int { return s.numSamples }

// Next draws one index.
func (s *WeightedSampler) Next() int {
	total := s.cum[len(s.cum)-1]
	u := s.rng.Float64() * total
	// first bucket whose upper edge lies above u; zero-weight buckets are empty
	i := sort.Search(len(s.cum), func(i int) bool { return s.cum[i] > u })
	if i > s.last {
		i = s.last
	}
	return i
}

// Indices draws a full epoch worth of indices.
func (s *WeightedSampler) Indices() []int {
	out := make([]int, s.numSamples)
	for i := range out {
		out[i] = s.Next()
	}
	return out
}

// Sequential returns 0..n-1, the order used for evaluation passes.
func Sequential(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
