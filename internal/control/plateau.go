package control

import "math"

// plateau tracks the best loss seen so far and how many consecutive
// observations failed to beat it by more than minDelta.
type plateau struct {
	minDelta float64
	best     float64
	wait     int
}

func newPlateau(minDelta float64) plateau {
	return plateau{minDelta: minDelta, best: math.Inf(1)}
}

// observe records loss and reports whether it counted as an improvement.
// NaN never improves.
func (p *plateau) observe(loss float64) bool {
	if loss < p.best-p.minDelta {
		p.best = loss
		p.wait = 0
		return true
	}
	p.wait++
	return false
}

func validatePatience(patience int) error {
	if patience < 1 {
		return ConfigError{Field: "patience", Value: patience, Reason: "must be >= 1"}
	}
	return nil
}

func validateMinDelta(minDelta float64) error {
	if minDelta < 0 || math.IsNaN(minDelta) || math.IsInf(minDelta, 0) {
		return ConfigError{Field: "min_delta", Value: minDelta, Reason: "must be a finite value >= 0"}
	}
	return nil
}
