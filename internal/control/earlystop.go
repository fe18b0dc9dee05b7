package control

import "github.com/rs/zerolog"

// StopConfig configures an EarlyStopping controller.
type StopConfig struct {
	Patience int
	MinDelta float64
}

// DefaultStopConfig returns patience 10, min_delta 0.
func DefaultStopConfig() StopConfig { return StopConfig{Patience: 10} }

// StopState is a read-only view of an EarlyStopping controller.
type StopState struct {
	BestLoss float64 `json:"best_loss"`
	Wait     int     `json:"wait"`
	Stop     bool    `json:"stop"`
}

// EarlyStopping raises a stop flag once the validation loss has failed to
// improve for Patience consecutive epochs. Once raised the flag stays set.
type EarlyStopping struct {
	cfg  StopConfig
	p    plateau
	stop bool
	log  zerolog.Logger
}

// NewEarlyStopping validates cfg and returns a fresh controller.
func NewEarlyStopping(cfg StopConfig) (*EarlyStopping, error) {
	if err := validatePatience(cfg.Patience); err != nil {
		return nil, err
	}
	if err := validateMinDelta(cfg.MinDelta); err != nil {
		return nil, err
	}
	return &EarlyStopping{cfg: cfg, p: newPlateau(cfg.MinDelta), log: zerolog.Nop()}, nil
}

// SetLogger installs a logger for the stop notice.
func (e *EarlyStopping) SetLogger(l zerolog.Logger) { e.log = l }

// Observe feeds one epoch's validation loss and returns the stop flag.
// Observing after the flag is set changes nothing.
func (e *EarlyStopping) Observe(valLoss float64) bool {
	if e.stop {
		return true
	}
	if e.p.observe(valLoss) {
		return false
	}
	e.log.Debug().Int("wait", e.p.wait).Int("patience", e.cfg.Patience).Msg("no validation improvement")
	if e.p.wait >= e.cfg.Patience {
		e.stop = true
		e.log.Info().Float64("best_loss", e.p.best).Int("patience", e.cfg.Patience).Msg("early stopping")
	}
	return e.stop
}

// Stopped reports whether training should halt.
func (e *EarlyStopping) Stopped() bool { return e.stop }

// State returns a snapshot of the controller.
func (e *EarlyStopping) State() StopState {
	return StopState{BestLoss: e.p.best, Wait: e.p.wait, Stop: e.stop}
}
