package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentplane/agentplane/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS assistants (
			assistant_id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			graph_id TEXT NOT NULL,
			config TEXT,
			context TEXT,
			required_fields TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'idle',
			assistant_id TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			assistant_id TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT,
			config TEXT,
			context TEXT,
			output TEXT,
			error_message TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (thread_id) REFERENCES threads(thread_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE TABLE IF NOT EXISTS cron_schedules (
			schedule_id TEXT PRIMARY KEY,
			assistant_id TEXT NOT NULL,
			expression TEXT NOT NULL,
			required_fields TEXT,
			special_instructions TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cron_firings (
			firing_id TEXT PRIMARY KEY,
			schedule_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'scheduled',
			output TEXT,
			error_message TEXT,
			scheduled_at INTEGER NOT NULL,
			started_at DATETIME,
			completed_at DATETIME,
			FOREIGN KEY (schedule_id) REFERENCES cron_schedules(schedule_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_firings_schedule ON cron_firings(schedule_id, scheduled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_firings_status ON cron_firings(status)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return errors.Wrapf(err, "migration failed: %s", m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so sibling stores can share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// CreateAssistant inserts an assistant. A duplicate name surfaces as a
// conflict.
func (s *SQLiteStore) CreateAssistant(ctx context.Context, a *domain.Assistant) error {
	fields, _ := json.Marshal(a.RequiredFields)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assistants (assistant_id, name, description, graph_id, config, context, required_fields, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AssistantID, a.Name, nullString(a.Description), a.GraphID,
		nullStringBytes(a.Config), nullStringBytes(a.Context), string(fields),
		a.CreatedAt, a.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return domain.Conflictf("assistant %q already exists", a.Name)
	}
	return err
}

// ReplaceAssistant overwrites an assistant row, keeping its id.
func (s *SQLiteStore) ReplaceAssistant(ctx context.Context, a *domain.Assistant) error {
	fields, _ := json.Marshal(a.RequiredFields)
	_, err := s.db.ExecContext(ctx,
		`UPDATE assistants SET name = ?, description = ?, graph_id = ?, config = ?, context = ?, required_fields = ?, updated_at = ?
		 WHERE assistant_id = ?`,
		a.Name, nullString(a.Description), a.GraphID,
		nullStringBytes(a.Config), nullStringBytes(a.Context), string(fields),
		a.UpdatedAt, a.AssistantID)
	return err
}

const assistantColumns = `assistant_id, name, description, graph_id, config, context, required_fields, created_at, updated_at`

func scanAssistant(row interface{ Scan(...interface{}) error }) (*domain.Assistant, error) {
	var a domain.Assistant
	var description, config, contextJSON, fields sql.NullString
	err := row.Scan(&a.AssistantID, &a.Name, &description, &a.GraphID, &config, &contextJSON, &fields, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		a.Description = description.String
	}
	if config.Valid {
		a.Config = json.RawMessage(config.String)
	}
	if contextJSON.Valid {
		a.Context = json.RawMessage(contextJSON.String)
	}
	if fields.Valid && fields.String != "" && fields.String != "null" {
		if err := json.Unmarshal([]byte(fields.String), &a.RequiredFields); err != nil {
			return nil, errors.Wrap(err, "decode required_fields")
		}
	}
	return &a, nil
}

// GetAssistant retrieves an assistant by ID.
func (s *SQLiteStore) GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error) {
	a, err := scanAssistant(s.db.QueryRowContext(ctx,
		`SELECT `+assistantColumns+` FROM assistants WHERE assistant_id = ?`, assistantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// GetAssistantByName retrieves an assistant by its unique name.
func (s *SQLiteStore) GetAssistantByName(ctx context.Context, name string) (*domain.Assistant, error) {
	a, err := scanAssistant(s.db.QueryRowContext(ctx,
		`SELECT `+assistantColumns+` FROM assistants WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ListAssistants lists all assistants, oldest first.
func (s *SQLiteStore) ListAssistants(ctx context.Context) ([]domain.Assistant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assistantColumns+` FROM assistants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assistants []domain.Assistant
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, err
		}
		assistants = append(assistants, *a)
	}
	return assistants, rows.Err()
}

// DeleteAssistant removes an assistant. Returns false when absent.
func (s *SQLiteStore) DeleteAssistant(ctx context.Context, assistantID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assistants WHERE assistant_id = ?`, assistantID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CreateThread creates a new thread.
func (s *SQLiteStore) CreateThread(ctx context.Context, t *domain.Thread) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (thread_id, status, assistant_id, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ThreadID, t.Status, nullString(t.AssistantID), nullStringBytes(t.Metadata), t.CreatedAt, t.UpdatedAt)
	return err
}

// GetThread retrieves a thread by ID.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	var t domain.Thread
	var assistantID, metadata sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id, status, assistant_id, metadata, created_at, updated_at FROM threads WHERE thread_id = ?`,
		threadID).Scan(&t.ThreadID, &t.Status, &assistantID, &metadata, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if assistantID.Valid {
		t.AssistantID = assistantID.String
	}
	if metadata.Valid {
		t.Metadata = json.RawMessage(metadata.String)
	}
	return &t, nil
}

// SetThreadBusy flips an idle thread to busy. The WHERE clause makes the
// flip atomic: a second concurrent run loses and gets false.
func (s *SQLiteStore) SetThreadBusy(ctx context.Context, threadID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET status = ?, updated_at = ? WHERE thread_id = ? AND status = ?`,
		domain.ThreadStatusBusy, time.Now(), threadID, domain.ThreadStatusIdle)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetThreadIdle marks a thread idle unconditionally.
func (s *SQLiteStore) SetThreadIdle(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET status = ?, updated_at = ? WHERE thread_id = ?`,
		domain.ThreadStatusIdle, time.Now(), threadID)
	return err
}

// CreateRun creates a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, thread_id, assistant_id, status, input, config, context, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.ThreadID, r.AssistantID, r.Status,
		nullStringBytes(r.Input), nullStringBytes(r.Config), nullStringBytes(r.Context),
		r.CreatedAt, r.UpdatedAt)
	return err
}

const runColumns = `run_id, thread_id, assistant_id, status, input, config, context, output, error_message, created_at, updated_at`

func scanRun(row interface{ Scan(...interface{}) error }) (*domain.Run, error) {
	var r domain.Run
	var input, config, contextJSON, output, errMsg sql.NullString
	err := row.Scan(&r.RunID, &r.ThreadID, &r.AssistantID, &r.Status, &input, &config, &contextJSON, &output, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if input.Valid {
		r.Input = json.RawMessage(input.String)
	}
	if config.Valid {
		r.Config = json.RawMessage(config.String)
	}
	if contextJSON.Valid {
		r.Context = json.RawMessage(contextJSON.String)
	}
	if output.Valid {
		r.Output = json.RawMessage(output.String)
	}
	if errMsg.Valid {
		r.ErrorMessage = errMsg.String
	}
	return &r, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRunsByThread lists runs for a thread, newest first.
func (s *SQLiteStore) ListRunsByThread(ctx context.Context, threadID string) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE thread_id = ? ORDER BY created_at DESC, run_id DESC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// UpdateRunStatus updates the status of a run.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE run_id = ?`,
		status, time.Now(), runID)
	return err
}

// FinishRun moves a run to a terminal status. The guard on non-terminal
// current status makes finishing idempotent: whichever path gets here
// first wins, later callers see false and keep the stored outcome.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status domain.RunStatus, output []byte, errMsg string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, output = ?, error_message = ?, updated_at = ?
		 WHERE run_id = ? AND status NOT IN (?, ?, ?, ?)`,
		status, nullStringBytes(output), nullString(errMsg), time.Now(), runID,
		domain.RunStatusCompleted, domain.RunStatusFailed, domain.RunStatusCancelled, domain.RunStatusInterrupted)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CreateSchedule creates a new cron schedule.
func (s *SQLiteStore) CreateSchedule(ctx context.Context, cs *domain.CronSchedule) error {
	fields, _ := json.Marshal(cs.RequiredFields)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_schedules (schedule_id, assistant_id, expression, required_fields, special_instructions, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cs.ScheduleID, cs.AssistantID, cs.Expression, string(fields),
		nullString(cs.SpecialInstructions), cs.Enabled, cs.CreatedAt, cs.UpdatedAt)
	return err
}

const scheduleColumns = `schedule_id, assistant_id, expression, required_fields, special_instructions, enabled, created_at, updated_at`

func scanSchedule(row interface{ Scan(...interface{}) error }) (*domain.CronSchedule, error) {
	var cs domain.CronSchedule
	var fields, instructions sql.NullString
	err := row.Scan(&cs.ScheduleID, &cs.AssistantID, &cs.Expression, &fields, &instructions, &cs.Enabled, &cs.CreatedAt, &cs.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if fields.Valid && fields.String != "" && fields.String != "null" {
		if err := json.Unmarshal([]byte(fields.String), &cs.RequiredFields); err != nil {
			return nil, errors.Wrap(err, "decode required_fields")
		}
	}
	if instructions.Valid {
		cs.SpecialInstructions = instructions.String
	}
	return &cs, nil
}

// GetSchedule retrieves a schedule by ID.
func (s *SQLiteStore) GetSchedule(ctx context.Context, scheduleID string) (*domain.CronSchedule, error) {
	cs, err := scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM cron_schedules WHERE schedule_id = ?`, scheduleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cs, err
}

// ListSchedules lists schedules, oldest first.
func (s *SQLiteStore) ListSchedules(ctx context.Context, enabledOnly bool) ([]domain.CronSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM cron_schedules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.CronSchedule
	for rows.Next() {
		cs, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *cs)
	}
	return schedules, rows.Err()
}

// UpdateSchedule overwrites the mutable fields of a schedule.
func (s *SQLiteStore) UpdateSchedule(ctx context.Context, cs *domain.CronSchedule) error {
	fields, _ := json.Marshal(cs.RequiredFields)
	_, err := s.db.ExecContext(ctx,
		`UPDATE cron_schedules SET expression = ?, required_fields = ?, special_instructions = ?, enabled = ?, updated_at = ?
		 WHERE schedule_id = ?`,
		cs.Expression, string(fields), nullString(cs.SpecialInstructions), cs.Enabled, cs.UpdatedAt, cs.ScheduleID)
	return err
}

// DeleteSchedule removes a schedule. Returns false when absent.
func (s *SQLiteStore) DeleteSchedule(ctx context.Context, scheduleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_schedules WHERE schedule_id = ?`, scheduleID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CreateFiring creates a new cron firing.
func (s *SQLiteStore) CreateFiring(ctx context.Context, f *domain.CronFiring) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_firings (firing_id, schedule_id, status, scheduled_at) VALUES (?, ?, ?, ?)`,
		f.FiringID, f.ScheduleID, f.Status, f.ScheduledAt.Unix())
	return err
}

const firingColumns = `firing_id, schedule_id, status, output, error_message, scheduled_at, started_at, completed_at`

func scanFiring(row interface{ Scan(...interface{}) error }) (*domain.CronFiring, error) {
	var f domain.CronFiring
	var output, errMsg sql.NullString
	var scheduledAt int64
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&f.FiringID, &f.ScheduleID, &f.Status, &output, &errMsg, &scheduledAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if output.Valid {
		f.Output = json.RawMessage(output.String)
	}
	if errMsg.Valid {
		f.ErrorMessage = errMsg.String
	}
	f.ScheduledAt = time.Unix(scheduledAt, 0).UTC()
	if startedAt.Valid {
		f.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		f.CompletedAt = &completedAt.Time
	}
	return &f, nil
}

// GetFiring retrieves a firing by ID.
func (s *SQLiteStore) GetFiring(ctx context.Context, firingID string) (*domain.CronFiring, error) {
	f, err := scanFiring(s.db.QueryRowContext(ctx,
		`SELECT `+firingColumns+` FROM cron_firings WHERE firing_id = ?`, firingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

// ListFiringsBySchedule lists firings for a schedule, newest first.
func (s *SQLiteStore) ListFiringsBySchedule(ctx context.Context, scheduleID string) ([]domain.CronFiring, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+firingColumns+` FROM cron_firings WHERE schedule_id = ? ORDER BY scheduled_at DESC, firing_id DESC`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFirings(rows)
}

// ListScheduledFirings lists unclaimed firings, oldest first.
func (s *SQLiteStore) ListScheduledFirings(ctx context.Context) ([]domain.CronFiring, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+firingColumns+` FROM cron_firings WHERE status = ? ORDER BY scheduled_at`, domain.FiringStatusScheduled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFirings(rows)
}

func collectFirings(rows *sql.Rows) ([]domain.CronFiring, error) {
	var firings []domain.CronFiring
	for rows.Next() {
		f, err := scanFiring(rows)
		if err != nil {
			return nil, err
		}
		firings = append(firings, *f)
	}
	return firings, rows.Err()
}

// ClaimFiring flips a scheduled firing to running. The conditional
// update commits the claim before any work starts.
func (s *SQLiteStore) ClaimFiring(ctx context.Context, firingID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cron_firings SET status = ?, started_at = ? WHERE firing_id = ? AND status = ?`,
		domain.FiringStatusRunning, time.Now(), firingID, domain.FiringStatusScheduled)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// FinishFiring records the outcome of a claimed firing.
func (s *SQLiteStore) FinishFiring(ctx context.Context, firingID string, status domain.FiringStatus, output []byte, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cron_firings SET status = ?, output = ?, error_message = ?, completed_at = ? WHERE firing_id = ?`,
		status, nullStringBytes(output), nullString(errMsg), time.Now(), firingID)
	return err
}

// HasFiringAt reports whether a firing already exists for the schedule
// at the given unix minute.
func (s *SQLiteStore) HasFiringAt(ctx context.Context, scheduleID string, scheduledAt int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM cron_firings WHERE schedule_id = ? AND scheduled_at = ?`,
		scheduleID, scheduledAt).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
