// Package tracking records per-epoch training metrics to external sinks.
//
// Sinks are fire-and-forget from the training loop's point of view: wrap
// them with Safe so that a failing or panicking backend is logged and
// otherwise ignored.
package tracking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Standard metric keys reported once per epoch.
const (
	KeyTrainLoss     = "train_loss"
	KeyTrainAccuracy = "train_accuracy"
	KeyValLoss       = "val_loss"
	KeyValAccuracy   = "val_accuracy"
	KeyLearningRate  = "lr"
)

// Record is one epoch's metrics for a run.
type Record struct {
	RunID   string             `json:"run_id"`
	Epoch   int                `json:"epoch"`
	Metrics map[string]float64 `json:"metrics"`
	Time    time.Time          `json:"time"`
}

// Keys returns the metric names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.Metrics))
	for k := range r.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sink receives records.
type Sink interface {
	Log(ctx context.Context, r Record) error
	Close() error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// MemorySink keeps records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	closed  bool
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Log(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memory sink closed")
	}
	m.records = append(m.records, r)
	return nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Records returns a copy of everything logged so far.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (ms Multi) Log(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range ms {
		if err := s.Log(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ms Multi) Close() error {
	var errs []error
	for _, s := range ms {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type safeSink struct {
	next Sink
	log  zerolog.Logger
}

// Safe wraps s so that Log and Close never return an error or panic. Failures
// are logged at warn level.
func Safe(s Sink, log zerolog.Logger) Sink {
	if s == nil {
		return Discard
	}
	return safeSink{next: s, log: log}
}

func (s safeSink) Log(ctx context.Context, r Record) error {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Warn().Interface("panic", rec).Int("epoch", r.Epoch).Msg("tracking sink panicked")
		}
	}()
	if err := s.next.Log(ctx, r); err != nil {
		s.log.Warn().Err(err).Int("epoch", r.Epoch).Msg("tracking sink failed")
	}
	return nil
}

func (s safeSink) Close() error {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Warn().Interface("panic", rec).Msg("tracking sink panicked on close")
		}
	}()
	if err := s.next.Close(); err != nil {
		s.log.Warn().Err(err).Msg("tracking sink close failed")
	}
	return nil
}

type discard struct{}

func (discard) Log(context.Context, Record) error { return nil }
func (discard) Close() error                      { return nil }

// Discard drops every record.
var Discard Sink = discard{}
