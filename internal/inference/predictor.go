// Package inference serves predictions from a trained checkpoint.
package inference

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"emotiond/internal/checkpoint"
	"emotiond/internal/dataset"
	"emotiond/internal/nn"
)

// DefaultLabels are the FER2013 classes in folder order, used when a
// checkpoint carries no class names.
var DefaultLabels = []string{"angry", "disgust", "fear", "happy", "neutral", "sad", "surprise"}

// Prediction is the outcome for one image.
type Prediction struct {
	Label         string
	Index         int
	Probabilities []float64
}

// Info describes the loaded model.
type Info struct {
	Classes   []string
	ImageSize int
	Epoch     int
	Network   nn.Spec
	RunID     string
	Path      string
}

// Predictor runs one forward pass at a time against the loaded network.
// The zero value is usable and not ready until Load or Use succeeds.
type Predictor struct {
	mu        sync.Mutex
	net       *nn.EmotionNet
	info      Info
	transform dataset.Transform
	loadErr   error
	log       zerolog.Logger
}

func NewPredictor() *Predictor { return &Predictor{log: zerolog.Nop()} }

// SetLogger sets the predictor logger.
func (p *Predictor) SetLogger(l zerolog.Logger) { p.log = l }

// Load reads the checkpoint at path and swaps it in. On failure the
// previous model, if any, stays active.
func (p *Predictor) Load(path string) error {
	c, err := checkpoint.Load(path)
	if err != nil {
		p.setLoadErr(err)
		return err
	}
	if err := p.Use(c); err != nil {
		p.setLoadErr(err)
		return err
	}
	p.mu.Lock()
	p.info.Path = path
	p.mu.Unlock()
	p.log.Info().Str("path", path).Int("epoch", c.Epoch).Strs("classes", p.Info().Classes).Msg("model loaded")
	return nil
}

func (p *Predictor) setLoadErr(err error) {
	p.mu.Lock()
	p.loadErr = err
	p.mu.Unlock()
}

// Use installs an in-memory checkpoint.
func (p *Predictor) Use(c *checkpoint.Checkpoint) error {
	net, err := c.Restore()
	if err != nil {
		return err
	}
	classes := c.Classes
	if len(classes) == 0 {
		if c.Network.Classes != len(DefaultLabels) {
			return fmt.Errorf("checkpoint has %d outputs and no class names", c.Network.Classes)
		}
		classes = DefaultLabels
	}
	size := c.ImageSize
	if size == 0 {
		size = int(math.Sqrt(float64(c.Network.Input)))
	}
	if size*size != c.Network.Input {
		return fmt.Errorf("image size %d does not match network input %d", size, c.Network.Input)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.net = net
	p.transform = dataset.EvalTransform(size)
	p.loadErr = nil
	p.info = Info{
		Classes:   append([]string(nil), classes...),
		ImageSize: size,
		Epoch:     c.Epoch,
		Network:   c.Network,
		RunID:     c.Metadata["run_id"],
	}
	return nil
}

// Ready reports whether a model is loaded.
func (p *Predictor) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.net != nil
}

// Info returns a description of the loaded model.
func (p *Predictor) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := p.info
	info.Classes = append([]string(nil), p.info.Classes...)
	return info
}

// Predict decodes the image in r, applies the evaluation transform and
// returns the most likely class.
func (p *Predictor) Predict(ctx context.Context, r io.Reader) (Prediction, error) {
	p.mu.Lock()
	net, transform, classes, loadErr := p.net, p.transform, p.info.Classes, p.loadErr
	p.mu.Unlock()
	if net == nil {
		reason := ""
		if loadErr != nil {
			reason = loadErr.Error()
		}
		return Prediction{}, NotReadyError{Reason: reason}
	}

	pix, err := dataset.DecodeGray(r, transform.Size)
	if err != nil {
		return Prediction{}, BadImageError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	x := transform.Apply(pix, nil)

	p.mu.Lock()
	probs, err := net.Forward([][]float64{x})
	p.mu.Unlock()
	if err != nil {
		return Prediction{}, fmt.Errorf("forward: %w", err)
	}
	row := append([]float64(nil), probs.RawRowView(0)...)
	idx := floats.MaxIdx(row)
	return Prediction{Label: classes[idx], Index: idx, Probabilities: row}, nil
}
