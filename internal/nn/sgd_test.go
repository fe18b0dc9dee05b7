package nn

import (
	"math/rand/v2"
	"testing"
)

func TestNewSGDValidates(t *testing.T) {
	cases := []struct{ lr, mom, wd float64 }{
		{0, 0, 0}, {-1, 0, 0}, {0.1, 1, 0}, {0.1, -0.1, 0}, {0.1, 0, -1},
	}
	for _, c := range cases {
		if _, err := NewSGD(c.lr, c.mom, c.wd); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
}

func TestSGDStep(t *testing.T) {
	o, err := NewSGD(0.5, 0, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p := []Parameter{{Name: "w", Shape: []int{2}, Value: []float64{1, 2}}}
	if err := o.Step(p, [][]float64{{2, -2}}); err != nil {
		t.Fatalf("step: %v", err)
	}
	if p[0].Value[0] != 0 || p[0].Value[1] != 3 {
		t.Fatalf("value=%v", p[0].Value)
	}
	o.SetLearningRate(0.25)
	if o.LearningRate() != 0.25 {
		t.Fatalf("lr=%v", o.LearningRate())
	}
	if err := o.Step(p, [][]float64{{1}}); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestSGDMomentumAccumulates(t *testing.T) {
	o, _ := NewSGD(1, 0.5, 0)
	p := []Parameter{{Name: "w", Value: []float64{0}}}
	g := [][]float64{{1}}
	_ = o.Step(p, g) // v=1
	_ = o.Step(p, g) // v=1.5
	if p[0].Value[0] != -2.5 {
		t.Fatalf("value=%v", p[0].Value[0])
	}
}

func TestTrainingReducesLoss(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	n, err := NewEmotionNet(Spec{Input: 2, Hidden: 8, Classes: 2}, rng)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var x [][]float64
	var y []int
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			x = append(x, []float64{0.1 + rng.Float64()*0.2, 0.8})
			y = append(y, 0)
		} else {
			x = append(x, []float64{0.8, 0.1 + rng.Float64()*0.2})
			y = append(y, 1)
		}
	}
	o, _ := NewSGD(0.2, 0.5, 0)
	first, _, grads, err := n.Backward(x, y)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	for i := 0; i < 500; i++ {
		if err := o.Step(n.Parameters(), grads); err != nil {
			t.Fatalf("step: %v", err)
		}
		_, _, grads, _ = n.Backward(x, y)
	}
	last, correct, _, _ := n.Backward(x, y)
	if !(last < first/2) {
		t.Fatalf("loss first=%v last=%v", first, last)
	}
	if correct != len(y) {
		t.Fatalf("correct=%d/%d", correct, len(y))
	}
}
