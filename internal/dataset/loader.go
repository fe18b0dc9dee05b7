package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// Batch is a mini-batch of flattened images and their labels.
type Batch struct {
	X [][]float64
	Y []int
}

// Len returns the number of examples in the batch.
func (b Batch) Len() int { return len(b.Y) }

// Loader reads samples from disk, caching the decoded grayscale pixels, and
// groups them into batches.
type Loader struct {
	samples   []Sample
	transform Transform
	batchSize int
	rng       *rand.Rand
	cache     [][]uint8
}

// NewLoader returns a loader over samples. rng drives the random parts of
// the transform and may be nil when the transform has none.
func NewLoader(samples []Sample, transform Transform, batchSize int, rng *rand.Rand) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size %d must be positive", batchSize)
	}
	if transform.Size <= 0 {
		return nil, fmt.Errorf("image size %d must be positive", transform.Size)
	}
	return &Loader{
		samples:   samples,
		transform: transform,
		batchSize: batchSize,
		rng:       rng,
		cache:     make([][]uint8, len(samples)),
	}, nil
}

// Len returns the number of samples behind the loader.
func (l *Loader) Len() int { return len(l.samples) }

// Labels returns the sample labels in order.
func (l *Loader) Labels() []int { return Labels(l.samples) }

// Example loads and transforms sample i.
func (l *Loader) Example(i int) ([]float64, int, error) {
	if i < 0 || i >= len(l.samples) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", i, len(l.samples))
	}
	pix := l.cache[i]
	if pix == nil {
		var err error
		pix, err = LoadGray(l.samples[i].Path, l.transform.Size)
		if err != nil {
			return nil, 0, err
		}
		l.cache[i] = pix
	}
	return l.transform.Apply(pix, l.rng), l.samples[i].Label, nil
}

// Each walks order in batches of the loader's batch size, the last batch
// possibly shorter, and calls fn for each. It stops at the first error,
// including context cancellation between batches.
func (l *Loader) Each(ctx context.Context, order []int, fn func(Batch) error) error {
	for start := 0; start < len(order); start += l.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + l.batchSize
		if end > len(order) {
			end = len(order)
		}
		b := Batch{X: make([][]float64, 0, end-start), Y: make([]int, 0, end-start)}
		for _, idx := range order[start:end] {
			x, y, err := l.Example(idx)
			if err != nil {
				return err
			}
			b.X = append(b.X, x)
			b.Y = append(b.Y, y)
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}
