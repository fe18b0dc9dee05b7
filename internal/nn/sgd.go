package nn

import (
	"fmt"
	"math"
)

// Optimizer updates parameters from gradients and exposes a mutable
// learning rate for schedulers.
type Optimizer interface {
	Step(params []Parameter, grads [][]float64) error
	LearningRate() float64
	SetLearningRate(lr float64)
}

// SGD is stochastic gradient descent with optional classical momentum and
// L2 weight decay.
type SGD struct {
	lr          float64
	momentum    float64
	weightDecay float64
	velocity    [][]float64
}

// NewSGD returns an SGD optimizer. lr must be positive; momentum in [0, 1);
// weightDecay >= 0.
func NewSGD(lr, momentum, weightDecay float64) (*SGD, error) {
	if !(lr > 0) || math.IsInf(lr, 0) {
		return nil, fmt.Errorf("sgd: learning rate %v must be positive", lr)
	}
	if momentum < 0 || momentum >= 1 {
		return nil, fmt.Errorf("sgd: momentum %v out of range [0, 1)", momentum)
	}
	if weightDecay < 0 {
		return nil, fmt.Errorf("sgd: weight decay %v must be >= 0", weightDecay)
	}
	return &SGD{lr: lr, momentum: momentum, weightDecay: weightDecay}, nil
}

// LearningRate implements Optimizer.
func (o *SGD) LearningRate() float64 { return o.lr }

// SetLearningRate implements Optimizer.
func (o *SGD) SetLearningRate(lr float64) { o.lr = lr }

// Step applies one update in place.
func (o *SGD) Step(params []Parameter, grads [][]float64) error {
	if len(params) != len(grads) {
		return fmt.Errorf("sgd: %d parameters, %d gradients", len(params), len(grads))
	}
	if o.momentum > 0 && o.velocity == nil {
		o.velocity = make([][]float64, len(params))
		for i, p := range params {
			o.velocity[i] = make([]float64, len(p.Value))
		}
	}
	for i, p := range params {
		g := grads[i]
		if len(g) != len(p.Value) {
			return fmt.Errorf("sgd: %s gradient size %d, want %d", p.Name, len(g), len(p.Value))
		}
		for j := range p.Value {
			d := g[j] + o.weightDecay*p.Value[j]
			if o.momentum > 0 {
				v := o.velocity[i]
				v[j] = o.momentum*v[j] + d
				d = v[j]
			}
			p.Value[j] -= o.lr * d
		}
	}
	return nil
}
