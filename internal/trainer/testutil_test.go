package trainer

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"emotiond/internal/dataset"
	"emotiond/internal/nn"
)

// memSource serves in-memory examples in batches of batchSize.
type memSource struct {
	x         [][]float64
	y         []int
	batchSize int
}

func (m *memSource) Len() int      { return len(m.y) }
func (m *memSource) Labels() []int { return append([]int(nil), m.y...) }

func (m *memSource) Each(ctx context.Context, order []int, fn func(dataset.Batch) error) error {
	bs := m.batchSize
	if bs <= 0 {
		bs = 4
	}
	for start := 0; start < len(order); start += bs {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+bs, len(order))
		var b dataset.Batch
		for _, i := range order[start:end] {
			b.X = append(b.X, m.x[i])
			b.Y = append(b.Y, m.y[i])
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

// scriptedModel is a two-class model whose validation loss on an all-zero
// label set follows losses, one value per Forward call.
type scriptedModel struct {
	losses []float64
	calls  int
	w      []float64
}

func (s *scriptedModel) NumClasses() int { return 2 }

func (s *scriptedModel) Parameters() []nn.Parameter {
	if s.w == nil {
		s.w = []float64{0}
	}
	return []nn.Parameter{{Name: "w", Shape: []int{1}, Value: s.w}}
}

func (s *scriptedModel) Forward(x [][]float64) (*mat.Dense, error) {
	if s.calls >= len(s.losses) {
		return nil, errors.New("script exhausted")
	}
	q := math.Exp(-s.losses[s.calls])
	s.calls++
	p := mat.NewDense(len(x), 2, nil)
	for i := range x {
		p.Set(i, 0, q)
		p.Set(i, 1, 1-q)
	}
	return p, nil
}

func (s *scriptedModel) Backward(x [][]float64, y []int) (float64, int, [][]float64, error) {
	return 1, len(y) / 2, [][]float64{{0.5}}, nil
}

func zeros(n, width int) *memSource {
	m := &memSource{batchSize: n}
	for i := 0; i < n; i++ {
		m.x = append(m.x, make([]float64, width))
		m.y = append(m.y, 0)
	}
	return m
}

// divergingModel pushes its weight to NaN on the first step.
type divergingModel struct{ scriptedModel }

func (d *divergingModel) Backward(x [][]float64, y []int) (float64, int, [][]float64, error) {
	return math.NaN(), 0, [][]float64{{math.Inf(1)}}, nil
}
