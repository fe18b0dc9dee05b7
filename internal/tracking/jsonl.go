package tracking

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONLSink appends one JSON object per record to a file.
type JSONLSink struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// OpenJSONL opens path for appending, creating parent directories.
func OpenJSONL(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl sink: %w", err)
	}
	return &JSONLSink{f: f, w: bufio.NewWriter(f)}, nil
}

type jsonRecord struct {
	RunID   string              `json:"run_id"`
	Epoch   int                 `json:"epoch"`
	Metrics map[string]*float64 `json:"metrics"`
	Time    string              `json:"time"`
}

// Log writes r and flushes. Non-finite values are written as null.
func (s *JSONLSink) Log(_ context.Context, r Record) error {
	jr := jsonRecord{
		RunID:   r.RunID,
		Epoch:   r.Epoch,
		Metrics: make(map[string]*float64, len(r.Metrics)),
		Time:    r.Time.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range r.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			jr.Metrics[k] = nil
			continue
		}
		v := v
		jr.Metrics[k] = &v
	}
	line, err := json.Marshal(jr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("jsonl sink closed")
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	ferr := s.w.Flush()
	cerr := s.f.Close()
	s.f = nil
	if ferr != nil {
		return ferr
	}
	return cerr
}
