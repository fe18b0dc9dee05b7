package trainer

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// EpochMetrics is what one epoch produced.
type EpochMetrics struct {
	Epoch         int           `json:"epoch"`
	TrainLoss     float64       `json:"train_loss"`
	TrainAccuracy float64       `json:"train_accuracy"`
	ValLoss       float64       `json:"val_loss"`
	ValAccuracy   float64       `json:"val_accuracy"`
	LearningRate  float64       `json:"lr"`
	Duration      time.Duration `json:"duration"`
}

// History is the append-only per-epoch metric log of a run.
type History struct {
	epochs []EpochMetrics
}

func (h *History) Append(m EpochMetrics) { h.epochs = append(h.epochs, m) }

func (h *History) Len() int { return len(h.epochs) }

// Last returns the most recent epoch and false when the history is empty.
func (h *History) Last() (EpochMetrics, bool) {
	if len(h.epochs) == 0 {
		return EpochMetrics{}, false
	}
	return h.epochs[len(h.epochs)-1], true
}

// Epochs returns a copy of all recorded epochs.
func (h *History) Epochs() []EpochMetrics {
	return append([]EpochMetrics(nil), h.epochs...)
}

func (h *History) column(f func(EpochMetrics) float64) []float64 {
	out := make([]float64, len(h.epochs))
	for i, m := range h.epochs {
		out[i] = f(m)
	}
	return out
}

func (h *History) TrainLoss() []float64 {
	return h.column(func(m EpochMetrics) float64 { return m.TrainLoss })
}

func (h *History) TrainAccuracy() []float64 {
	return h.column(func(m EpochMetrics) float64 { return m.TrainAccuracy })
}

func (h *History) ValLoss() []float64 {
	return h.column(func(m EpochMetrics) float64 { return m.ValLoss })
}

func (h *History) ValAccuracy() []float64 {
	return h.column(func(m EpochMetrics) float64 { return m.ValAccuracy })
}

var csvHeader = []string{"epoch", "train_loss", "train_accuracy", "val_loss", "val_accuracy", "lr", "duration_seconds"}

// WriteCSV writes a header row followed by one row per epoch.
func (h *History) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	ff := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, m := range h.epochs {
		row := []string{
			strconv.Itoa(m.Epoch),
			ff(m.TrainLoss), ff(m.TrainAccuracy),
			ff(m.ValLoss), ff(m.ValAccuracy),
			ff(m.LearningRate), ff(m.Duration.Seconds()),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
