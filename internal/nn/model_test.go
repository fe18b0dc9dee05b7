package nn

import (
	"math"
	"math/rand/v2"
	"testing"
)

func tinyNet(t *testing.T) *EmotionNet {
	t.Helper()
	n, err := NewEmotionNet(Spec{Input: 4, Hidden: 5, Classes: 3}, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return n
}

func TestForwardRowsSumToOne(t *testing.T) {
	n := tinyNet(t)
	p, err := n.Forward([][]float64{{0, 0.5, 1, 0.25}, {1, 1, 1, 1}})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	r, c := p.Dims()
	if r != 2 || c != 3 {
		t.Fatalf("dims=%dx%d", r, c)
	}
	for i := 0; i < r; i++ {
		sum := 0.0
		for _, v := range p.RawRowView(i) {
			if v < 0 || v > 1 {
				t.Fatalf("prob=%v", v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d sum=%v", i, sum)
		}
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	n := tinyNet(t)
	if _, err := n.Forward(nil); err == nil {
		t.Fatalf("expected error for empty batch")
	}
	if _, err := n.Forward([][]float64{{1, 2}}); err == nil {
		t.Fatalf("expected error for wrong width")
	}
	if _, _, _, err := n.Backward([][]float64{{1, 2, 3, 4}}, []int{5}); err == nil {
		t.Fatalf("expected error for label out of range")
	}
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	n := tinyNet(t)
	x := [][]float64{{0.1, 0.7, 0.3, 0.9}, {0.8, 0.2, 0.5, 0.4}, {0.3, 0.3, 0.9, 0.1}}
	y := []int{0, 2, 1}
	_, _, grads, err := n.Backward(x, y)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	const eps = 1e-6
	for pi, p := range n.Parameters() {
		for j := range p.Value {
			orig := p.Value[j]
			p.Value[j] = orig + eps
			up, _, _, _ := n.Backward(x, y)
			p.Value[j] = orig - eps
			down, _, _, _ := n.Backward(x, y)
			p.Value[j] = orig
			num := (up - down) / (2 * eps)
			if math.Abs(num-grads[pi][j]) > 1e-5 {
				t.Fatalf("%s[%d]: analytic=%v numeric=%v", p.Name, j, grads[pi][j], num)
			}
		}
	}
}

func TestLoadParameters(t *testing.T) {
	src := tinyNet(t)
	dst, _ := NewEmotionNet(src.Spec(), rand.New(rand.NewPCG(9, 9)))
	values := map[string][]float64{}
	for _, p := range src.Parameters() {
		values[p.Name] = append([]float64(nil), p.Value...)
	}
	if err := dst.LoadParameters(values); err != nil {
		t.Fatalf("load: %v", err)
	}
	x := [][]float64{{0.2, 0.4, 0.6, 0.8}}
	a, _ := src.Forward(x)
	b, _ := dst.Forward(x)
	for j, v := range a.RawRowView(0) {
		if v != b.At(0, j) {
			t.Fatalf("col %d: %v != %v", j, v, b.At(0, j))
		}
	}

	delete(values, "fc2.bias")
	if err := dst.LoadParameters(values); err == nil {
		t.Fatalf("expected missing parameter error")
	}
	values["fc2.bias"] = []float64{1}
	if err := dst.LoadParameters(values); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestSpecValidate(t *testing.T) {
	for _, s := range []Spec{{0, 1, 2}, {1, 0, 2}, {1, 1, 1}} {
		if err := s.Validate(); err == nil {
			t.Fatalf("expected error for %+v", s)
		}
	}
}
