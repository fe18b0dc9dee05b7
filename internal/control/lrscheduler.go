package control

import (
	"math"

	"github.com/rs/zerolog"
)

// LearningRateSetter is the slice of an optimizer the scheduler needs: a
// learning rate it can read and overwrite in place.
type LearningRateSetter interface {
	LearningRate() float64
	SetLearningRate(lr float64)
}

// SchedulerConfig configures an LRScheduler. There are no implicit defaults;
// use DefaultSchedulerConfig for the stock values.
type SchedulerConfig struct {
	// Patience is the number of consecutive non-improving epochs tolerated
	// before the learning rate is reduced.
	Patience int
	// Factor multiplies the learning rate on each reduction, 0 < Factor < 1.
	Factor float64
	// MinDelta is the amount a loss must beat the best loss by to count as
	// an improvement.
	MinDelta float64
	// MinLR is a floor the learning rate is never reduced below.
	MinLR float64
}

// DefaultSchedulerConfig returns patience 5, factor 0.5, min_lr 1e-6.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Patience: 5, Factor: 0.5, MinDelta: 0, MinLR: 1e-6}
}

// SchedulerState is a read-only view of an LRScheduler.
type SchedulerState struct {
	BestLoss float64 `json:"best_loss"`
	Wait     int     `json:"wait"`
	// CurrentFactor is the ratio of the current learning rate to the one
	// seen at construction, as changed by this scheduler. It never grows.
	CurrentFactor float64 `json:"current_factor"`
	Reductions    int     `json:"reductions"`
}

// ReduceFunc is notified after every learning rate reduction.
type ReduceFunc func(oldLR, newLR float64)

// LRScheduler reduces an optimizer's learning rate when the validation loss
// stops improving.
type LRScheduler struct {
	opt        LearningRateSetter
	cfg        SchedulerConfig
	p          plateau
	factor     float64
	reductions int
	onReduce   ReduceFunc
	log        zerolog.Logger
}

// NewLRScheduler validates cfg and returns a scheduler bound to opt.
func NewLRScheduler(opt LearningRateSetter, cfg SchedulerConfig) (*LRScheduler, error) {
	if opt == nil {
		return nil, ConfigError{Field: "optimizer", Value: nil, Reason: "is required"}
	}
	if err := validatePatience(cfg.Patience); err != nil {
		return nil, err
	}
	if !(cfg.Factor > 0 && cfg.Factor < 1) {
		return nil, ConfigError{Field: "factor", Value: cfg.Factor, Reason: "must be in (0, 1)"}
	}
	if err := validateMinDelta(cfg.MinDelta); err != nil {
		return nil, err
	}
	if cfg.MinLR < 0 || math.IsNaN(cfg.MinLR) {
		return nil, ConfigError{Field: "min_lr", Value: cfg.MinLR, Reason: "must be >= 0"}
	}
	return &LRScheduler{
		opt:    opt,
		cfg:    cfg,
		p:      newPlateau(cfg.MinDelta),
		factor: 1,
		log:    zerolog.Nop(),
	}, nil
}

// SetLogger installs a logger for reduction notices.
func (s *LRScheduler) SetLogger(l zerolog.Logger) { s.log = l }

// OnReduce registers fn to be called after each reduction.
func (s *LRScheduler) OnReduce(fn ReduceFunc) { s.onReduce = fn }

// Observe feeds one epoch's validation loss to the scheduler and reduces the
// learning rate when the wait counter reaches patience.
func (s *LRScheduler) Observe(valLoss float64) {
	if s.p.observe(valLoss) {
		return
	}
	if s.p.wait < s.cfg.Patience {
		return
	}
	s.p.wait = 0

	oldLR := s.opt.LearningRate()
	newLR := math.Max(oldLR*s.cfg.Factor, s.cfg.MinLR)
	if !(newLR < oldLR) {
		s.log.Debug().Float64("lr", oldLR).Msg("learning rate at floor, not reduced")
		return
	}
	s.opt.SetLearningRate(newLR)
	if oldLR > 0 {
		s.factor *= newLR / oldLR
	}
	s.reductions++
	s.log.Info().
		Float64("old_lr", oldLR).
		Float64("new_lr", newLR).
		Float64("best_loss", s.p.best).
		Msg("reducing learning rate")
	if s.onReduce != nil {
		s.onReduce(oldLR, newLR)
	}
}

// State returns a snapshot of the scheduler counters.
func (s *LRScheduler) State() SchedulerState {
	return SchedulerState{
		BestLoss:      s.p.best,
		Wait:          s.p.wait,
		CurrentFactor: s.factor,
		Reductions:    s.reductions,
	}
}
