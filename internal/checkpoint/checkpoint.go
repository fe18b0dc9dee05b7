// Package checkpoint persists trained network parameters.
//
// A run writes exactly one checkpoint file. Saves go through a temp file in
// the target directory followed by a rename, so readers never see a partial
// file and a second save overwrites the first.
package checkpoint

import (
	"fmt"
	"time"

	"emotiond/internal/nn"
)

// Version is bumped when the on-disk layout changes incompatibly.
const Version = 1

// Tensor is one named parameter.
type Tensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Checkpoint is the persisted model state.
type Checkpoint struct {
	Version      int               `json:"version"`
	Epoch        int               `json:"epoch"`
	Classes      []string          `json:"classes"`
	ImageSize    int               `json:"image_size"`
	Network      nn.Spec           `json:"network"`
	Tensors      []Tensor          `json:"tensors"`
	LearningRate float64           `json:"learning_rate"`
	CreatedAt    time.Time         `json:"created_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// FromParameters copies the parameter values so later optimizer steps do
// not change the checkpoint.
func FromParameters(params []nn.Parameter) []Tensor {
	out := make([]Tensor, len(params))
	for i, p := range params {
		out[i] = Tensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float64(nil), p.Value...),
		}
	}
	return out
}

// Values indexes tensors by name, the shape nn.EmotionNet.LoadParameters
// expects.
func (c *Checkpoint) Values() map[string][]float64 {
	m := make(map[string][]float64, len(c.Tensors))
	for _, t := range c.Tensors {
		m[t.Name] = t.Data
	}
	return m
}

// Validate checks the checkpoint is usable for inference.
func (c *Checkpoint) Validate() error {
	if c.Version != Version {
		return fmt.Errorf("checkpoint version %d not supported (want %d)", c.Version, Version)
	}
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if len(c.Classes) != 0 && len(c.Classes) != c.Network.Classes {
		return fmt.Errorf("checkpoint has %d class names for %d outputs", len(c.Classes), c.Network.Classes)
	}
	if len(c.Tensors) == 0 {
		return fmt.Errorf("checkpoint has no tensors")
	}
	for _, t := range c.Tensors {
		n := 1
		for _, d := range t.Shape {
			n *= d
		}
		if n != len(t.Data) {
			return fmt.Errorf("tensor %s: shape %v holds %d values, got %d", t.Name, t.Shape, n, len(t.Data))
		}
	}
	return nil
}

// Restore builds a network from the checkpoint.
func (c *Checkpoint) Restore() (*nn.EmotionNet, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	net, err := nn.NewEmotionNet(c.Network, nil)
	if err != nil {
		return nil, err
	}
	if err := net.LoadParameters(c.Values()); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return net, nil
}
