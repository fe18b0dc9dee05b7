package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Split randomly partitions samples into a train set of floor(n*trainFrac)
// items and a validation set of ceil(n*valFrac) items, the latter capped so
// the two never overlap.
func Split(samples []Sample, trainFrac, valFrac float64, rng *rand.Rand) (train, val []Sample, err error) {
	if trainFrac <= 0 || trainFrac > 1 {
		return nil, nil, fmt.Errorf("train split %v out of range (0, 1]", trainFrac)
	}
	if valFrac < 0 || valFrac >= 1 {
		return nil, nil, fmt.Errorf("val split %v out of range [0, 1)", valFrac)
	}
	n := len(samples)
	trainSize := int(math.Floor(float64(n) * trainFrac))
	valSize := int(math.Ceil(float64(n) * valFrac))
	if trainSize == 0 {
		return nil, nil, fmt.Errorf("train split of %d samples is empty", n)
	}
	if trainSize+valSize > n {
		valSize = n - trainSize
	}

	perm := rng.Perm(n)
	train = make([]Sample, trainSize)
	for i := 0; i < trainSize; i++ {
		train[i] = samples[perm[i]]
	}
	val = make([]Sample, valSize)
	for i := 0; i < valSize; i++ {
		val[i] = samples[perm[trainSize+i]]
	}
	return train, val, nil
}
