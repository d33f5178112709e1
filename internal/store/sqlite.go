package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/me/os3/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Open creates the parent directory of dbPath if needed, opens the
// database and applies migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	st, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
	}
	return st, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	appsJSON, err := json.Marshal(run.Apps)
	if err != nil {
		return fmt.Errorf("marshal apps: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, state, num_app, apps, switches, halt_reason, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.State), run.NumApp, string(appsJSON), run.Switches, run.HaltReason,
		run.CreatedAt.Format(time.RFC3339Nano), formatTimePtr(run.CompletedAt),
	)
	return err
}

// GetRun returns the run with its final task table, or nil if it does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, num_app, apps, switches, halt_reason, created_at, completed_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tasks, err := s.ListTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Tasks = tasks
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	whereSQL := ""
	var countArgs []any
	if opts.State != "" {
		whereSQL = " WHERE state = ?"
		countArgs = append(countArgs, string(opts.State))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT id, state, num_app, apps, switches, halt_reason, created_at, completed_at
		FROM runs` + whereSQL + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID, "state", run.State)

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, switches = ?, halt_reason = ?, completed_at = ? WHERE id = ?`,
		string(run.State), run.Switches, run.HaltReason, formatTimePtr(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// --- Events ---

// AppendEvents inserts a batch of events in one transaction.
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "insert", "table", "events", "run_id", events[0].RunID, "count", len(events))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (run_id, seq, kind, from_task, to_task, code, time_us) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, ev.RunID, ev.Seq, string(ev.Kind), ev.From, ev.To, ev.Code, int64(ev.TimeUS)); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]model.Event, error) {
	s.logger.Debug("sql", "op", "list", "table", "events", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, kind, from_task, to_task, code, time_us
		 FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var kind string
		var timeUS int64
		if err := rows.Scan(&ev.RunID, &ev.Seq, &kind, &ev.From, &ev.To, &ev.Code, &timeUS); err != nil {
			return nil, err
		}
		ev.Kind = model.EventKind(kind)
		ev.TimeUS = uint64(timeUS)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Tasks ---

// SaveTasks replaces the stored task table of a run.
func (s *SQLiteStore) SaveTasks(ctx context.Context, runID string, tasks []model.TaskSnapshot) error {
	s.logger.Debug("sql", "op", "replace", "table", "tasks", "run_id", runID, "count", len(tasks))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE run_id = ?`, runID); err != nil {
		return err
	}
	for _, t := range tasks {
		countsJSON, err := json.Marshal(t.SyscallCount)
		if err != nil {
			return fmt.Errorf("marshal syscall counts: %w", err)
		}
		var exitCode any
		if t.ExitCode != nil {
			exitCode = *t.ExitCode
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (run_id, task_id, name, status, start_time_us, syscall_counts, exit_code)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, t.ID, t.Name, string(t.Status), int64(t.StartTimeUS), string(countsJSON), exitCode,
		); err != nil {
			return fmt.Errorf("insert task %d: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListTasks(ctx context.Context, runID string) ([]model.TaskSnapshot, error) {
	s.logger.Debug("sql", "op", "list", "table", "tasks", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, name, status, start_time_us, syscall_counts, exit_code
		 FROM tasks WHERE run_id = ? ORDER BY task_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.TaskSnapshot
	for rows.Next() {
		var t model.TaskSnapshot
		var status, countsJSON string
		var startUS int64
		var exitCode *int
		if err := rows.Scan(&t.ID, &t.Name, &status, &startUS, &countsJSON, &exitCode); err != nil {
			return nil, err
		}
		t.Status = model.TaskStatus(status)
		t.StartTimeUS = uint64(startUS)
		t.ExitCode = exitCode
		if err := json.Unmarshal([]byte(countsJSON), &t.SyscallCount); err != nil {
			return nil, fmt.Errorf("unmarshal syscall counts: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var state, appsJSON, createdAt string
	var completedAt *string

	if err := row.Scan(&run.ID, &state, &run.NumApp, &appsJSON, &run.Switches,
		&run.HaltReason, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	run.State = model.RunState(state)
	if err := json.Unmarshal([]byte(appsJSON), &run.Apps); err != nil {
		return nil, fmt.Errorf("unmarshal apps: %w", err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		run.CompletedAt = &t
	}
	return &run, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

var _ Store = (*SQLiteStore)(nil)
