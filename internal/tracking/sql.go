package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLSink stores metrics in a relational table, one row per
// (run, epoch, metric). Supported drivers are "sqlite" and "postgres".
type SQLSink struct {
	driver string

	mu sync.RWMutex
	db *sql.DB
}

// OpenSQL connects, pings and creates the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLSink, error) {
	switch driver {
	case "sqlite", "postgres":
	case "":
		return nil, errors.New("sql sink: driver is required")
	default:
		return nil, fmt.Errorf("sql sink: unsupported driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("sql sink: dsn is required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLSink{driver: driver, db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS epoch_metrics (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			name TEXT NOT NULL,
			value DOUBLE PRECISION,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, epoch, name)
		)
	`)
	return err
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLSink) rebind(q string) string {
	if s.driver != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLSink) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("sql sink closed")
	}
	return s.db, nil
}

// Log upserts every metric of r in one transaction.
func (s *SQLSink) Log(ctx context.Context, r Record) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	q := s.rebind(`
		INSERT INTO epoch_metrics (run_id, epoch, name, value, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, epoch, name) DO UPDATE SET
			value = excluded.value,
			recorded_at = excluded.recorded_at
	`)
	at := r.Time.UTC().Format(time.RFC3339Nano)
	for _, k := range r.Keys() {
		var v sql.NullFloat64
		if f := r.Metrics[k]; !math.IsNaN(f) && !math.IsInf(f, 0) {
			v = sql.NullFloat64{Float64: f, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, q, r.RunID, r.Epoch, k, v, at); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert metric %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Records reads back every record of runID ordered by epoch. NULL values
// come back as NaN.
func (s *SQLSink) Records(ctx context.Context, runID string) ([]Record, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, s.rebind(`
		SELECT epoch, name, value, recorded_at FROM epoch_metrics
		WHERE run_id = ? ORDER BY epoch, name
	`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			epoch int
			name  string
			value sql.NullFloat64
			at    string
		)
		if err := rows.Scan(&epoch, &name, &value, &at); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].Epoch != epoch {
			ts, _ := time.Parse(time.RFC3339Nano, at)
			out = append(out, Record{RunID: runID, Epoch: epoch, Metrics: map[string]float64{}, Time: ts})
		}
		v := math.NaN()
		if value.Valid {
			v = value.Float64
		}
		out[len(out)-1].Metrics[name] = v
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
