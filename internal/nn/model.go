package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Parameter is a named view of one trainable tensor. Value aliases the
// model's storage; writing to it updates the model.
type Parameter struct {
	Name  string
	Shape []int
	Value []float64
}

// Model is what the training loop needs from a network.
type Model interface {
	// Forward returns the class probabilities for every row of x.
	Forward(x [][]float64) (*mat.Dense, error)
	// Backward runs a forward pass on x and returns the mean cross-entropy
	// loss, the number of correct argmax predictions and the gradient of
	// the loss for every parameter, in Parameters order.
	Backward(x [][]float64, y []int) (loss float64, correct int, grads [][]float64, err error)
	// Parameters lists the trainable tensors in a stable order.
	Parameters() []Parameter
	// NumClasses is the width of the output layer.
	NumClasses() int
}

// Spec describes the network shape.
type Spec struct {
	Input   int `json:"input"`
	Hidden  int `json:"hidden"`
	Classes int `json:"classes"`
}

// Validate checks all dimensions are positive.
func (s Spec) Validate() error {
	if s.Input <= 0 || s.Hidden <= 0 || s.Classes <= 1 {
		return fmt.Errorf("invalid network spec %+v", s)
	}
	return nil
}

// EmotionNet is the classifier network.
type EmotionNet struct {
	spec Spec
	w1   *mat.Dense // Input x Hidden
	b1   []float64
	w2   *mat.Dense // Hidden x Classes
	b2   []float64
}

// NewEmotionNet builds a network with He-initialised weights drawn from rng
// and zero biases. A nil rng leaves all weights zero, which is only useful
// before LoadParameters.
func NewEmotionNet(spec Spec, rng *rand.Rand) (*EmotionNet, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	n := &EmotionNet{
		spec: spec,
		w1:   mat.NewDense(spec.Input, spec.Hidden, nil),
		b1:   make([]float64, spec.Hidden),
		w2:   mat.NewDense(spec.Hidden, spec.Classes, nil),
		b2:   make([]float64, spec.Classes),
	}
	if rng != nil {
		heInit(n.w1.RawMatrix().Data, spec.Input, rng)
		heInit(n.w2.RawMatrix().Data, spec.Hidden, rng)
	}
	return n, nil
}

func heInit(dst []float64, fanIn int, rng *rand.Rand) {
	std := math.Sqrt(2 / float64(fanIn))
	for i := range dst {
		dst[i] = rng.NormFloat64() * std
	}
}

// Spec returns the network shape.
func (n *EmotionNet) Spec() Spec { return n.spec }

// NumClasses implements Model.
func (n *EmotionNet) NumClasses() int { return n.spec.Classes }

// Parameters implements Model.
func (n *EmotionNet) Parameters() []Parameter {
	return []Parameter{
		{Name: "fc1.weight", Shape: []int{n.spec.Input, n.spec.Hidden}, Value: n.w1.RawMatrix().Data},
		{Name: "fc1.bias", Shape: []int{n.spec.Hidden}, Value: n.b1},
		{Name: "fc2.weight", Shape: []int{n.spec.Hidden, n.spec.Classes}, Value: n.w2.RawMatrix().Data},
		{Name: "fc2.bias", Shape: []int{n.spec.Classes}, Value: n.b2},
	}
}

// LoadParameters copies values by name into the network. Every parameter
// must be present with a matching size.
func (n *EmotionNet) LoadParameters(values map[string][]float64) error {
	for _, p := range n.Parameters() {
		v, ok := values[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %s", p.Name)
		}
		if len(v) != len(p.Value) {
			return fmt.Errorf("parameter %s: size %d, want %d", p.Name, len(v), len(p.Value))
		}
		copy(p.Value, v)
	}
	return nil
}

func (n *EmotionNet) input(x [][]float64) (*mat.Dense, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	data := make([]float64, 0, len(x)*n.spec.Input)
	for i, row := range x {
		if len(row) != n.spec.Input {
			return nil, fmt.Errorf("example %d: %d features, want %d", i, len(row), n.spec.Input)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(x), n.spec.Input, data), nil
}

// forward returns the pre-activation hidden layer, the post-ReLU hidden
// layer and the output probabilities.
func (n *EmotionNet) forward(x *mat.Dense) (z1, a1, p *mat.Dense) {
	z1 = new(mat.Dense)
	z1.Mul(x, n.w1)
	addBias(z1, n.b1)

	a1 = mat.DenseCopyOf(z1)
	raw := a1.RawMatrix().Data
	for i, v := range raw {
		if v < 0 {
			raw[i] = 0
		}
	}

	p = new(mat.Dense)
	p.Mul(a1, n.w2)
	addBias(p, n.b2)
	softmaxRows(p)
	return z1, a1, p
}

// Forward implements Model.
func (n *EmotionNet) Forward(x [][]float64) (*mat.Dense, error) {
	in, err := n.input(x)
	if err != nil {
		return nil, err
	}
	_, _, p := n.forward(in)
	return p, nil
}

// Backward implements Model.
func (n *EmotionNet) Backward(x [][]float64, y []int) (float64, int, [][]float64, error) {
	if len(x) != len(y) {
		return 0, 0, nil, fmt.Errorf("batch has %d examples and %d labels", len(x), len(y))
	}
	in, err := n.input(x)
	if err != nil {
		return 0, 0, nil, err
	}
	z1, a1, p := n.forward(in)
	loss, correct, err := CrossEntropy(p, y)
	if err != nil {
		return 0, 0, nil, err
	}

	// dL/dlogits = (p - onehot(y)) / batch
	bs := float64(len(y))
	dz2 := mat.DenseCopyOf(p)
	for i, label := range y {
		row := dz2.RawRowView(i)
		row[label]--
		for j := range row {
			row[j] /= bs
		}
	}

	dw2 := new(mat.Dense)
	dw2.Mul(a1.T(), dz2)
	db2 := colSums(dz2)

	dz1 := new(mat.Dense)
	dz1.Mul(dz2, n.w2.T())
	zr := z1.RawMatrix().Data
	dr := dz1.RawMatrix().Data
	for i := range dr {
		if zr[i] <= 0 {
			dr[i] = 0
		}
	}

	dw1 := new(mat.Dense)
	dw1.Mul(in.T(), dz1)
	db1 := colSums(dz1)

	grads := [][]float64{dw1.RawMatrix().Data, db1, dw2.RawMatrix().Data, db2}
	return loss, correct, grads, nil
}

func addBias(m *mat.Dense, b []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += b[j]
		}
	}
}

func softmaxRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		sum := 0.0
		for j, v := range row {
			row[j] = math.Exp(v - max)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

func colSums(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, c)
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i) {
			out[j] += v
		}
	}
	return out
}
