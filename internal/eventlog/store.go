// Package eventlog persists run event streams for replay.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/agentplane/agentplane/internal/domain"
)

// Store is a durable, per-run ordered event log backed by SQLite. It
// shares the database handle with the entity store so retention GC can
// join against run status.
type Store struct {
	db *sql.DB
}

// New creates the event log on an existing database handle and runs
// its migration.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migrate event log")
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS run_events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			data TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_created ON run_events(created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Append stores one event. The (run_id, seq) primary key rejects a
// duplicate seq, so a racing writer fails loudly instead of silently
// reordering the stream.
func (s *Store) Append(ctx context.Context, ev *domain.Event) error {
	data := ""
	if ev.Data != nil {
		data = string(ev.Data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, seq, type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.RunID, ev.Seq, ev.Type, data, ev.CreatedAt)
	return err
}

// ListAfter returns events with seq > afterSeq, in seq order.
func (s *Store) ListAfter(ctx context.Context, runID string, afterSeq int64) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, type, data, created_at FROM run_events WHERE run_id = ? AND seq > ? ORDER BY seq`,
		runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var data sql.NullString
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Type, &data, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if data.Valid && data.String != "" {
			ev.Data = json.RawMessage(data.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LastSeq returns the highest stored seq for a run, 0 when none.
func (s *Store) LastSeq(ctx context.Context, runID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM run_events WHERE run_id = ?`, runID).Scan(&seq)
	return seq, err
}

// NextSeq returns the next seq to assign for a run.
func (s *Store) NextSeq(ctx context.Context, runID string) (int64, error) {
	last, err := s.LastSeq(ctx, runID)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// DeleteExpired removes events older than cutoff whose run has reached
// a terminal status. Events of live runs are never touched regardless
// of age. Returns the number of deleted rows.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM run_events WHERE created_at < ? AND run_id IN (
			SELECT run_id FROM runs WHERE status IN (?, ?, ?, ?)
		)`,
		cutoff, domain.RunStatusCompleted, domain.RunStatusFailed,
		domain.RunStatusCancelled, domain.RunStatusInterrupted)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
