// Package sqlite implements the migration run journal on SQLite.
//
// The journal records one row per run and one row per processed work item,
// so an interrupted run can be resumed and finished runs can be reported.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/witmigrate/witmigrate/internal/types"
)

const driverName = "sqlite"

// Fixed-width UTC timestamps sort lexicographically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Journal is a SQLite-backed run journal. It is safe for concurrent use.
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection serializes writes from concurrent workers.
	db.SetMaxOpenConns(1)
	j := &Journal{db: db, path: path}
	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// OpenInMemory opens a private in-memory journal.
func OpenInMemory(ctx context.Context) (*Journal, error) {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open journal memory: %w", err)
	}
	// The database lives as long as its single connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	j := &Journal{db: db, path: ":memory:"}
	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_key TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			target TEXT NOT NULL DEFAULT '',
			dry_run INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			summary TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_key ON runs(run_key);`,
		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_key TEXT NOT NULL,
			work_item_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			added INTEGER NOT NULL DEFAULT 0,
			removed INTEGER NOT NULL DEFAULT 0,
			unresolved INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_items_run_item ON items(run_key, work_item_id);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// StartRun inserts a run row and returns it with its id set.
func (j *Journal) StartRun(ctx context.Context, run types.Run) (types.Run, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (run_key, source, target, dry_run, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunKey, run.Source, run.Target, boolToInt(run.DryRun), run.StartedAt.UTC().Format(timeFormat))
	if err != nil {
		return run, wrapDBError("start run", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return run, wrapDBError("start run id", err)
	}
	run.ID = id
	return run, nil
}

// FinishRun stamps the run's end time and summary line.
func (j *Journal) FinishRun(ctx context.Context, id int64, summary string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, summary = ? WHERE id = ?`,
		time.Now().UTC().Format(timeFormat), summary, id)
	if err != nil {
		return wrapDBError("finish run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %d: %w", id, ErrNotFound)
	}
	return nil
}

// Record appends an item result.
func (j *Journal) Record(ctx context.Context, rec types.ItemRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO items (run_key, work_item_id, status, added, removed, unresolved, failures, message, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunKey, rec.WorkItemID, string(rec.Status), rec.Added, rec.Removed,
		rec.Unresolved, rec.Failures, rec.Message, rec.RecordedAt.UTC().Format(timeFormat))
	return wrapDBError("record item", err)
}

// Completed returns the work items whose latest entry under runKey is done.
func (j *Journal) Completed(ctx context.Context, runKey string) (map[int]bool, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT i.work_item_id, i.status
		FROM items i
		JOIN (
			SELECT work_item_id, MAX(id) AS max_id
			FROM items
			WHERE run_key = ?
			GROUP BY work_item_id
		) latest ON latest.max_id = i.id`, runKey)
	if err != nil {
		return nil, wrapDBError("query completed", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var id int
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, wrapDBError("scan completed", err)
		}
		if types.ItemStatus(status).Done() {
			done[id] = true
		}
	}
	return done, wrapDBError("iterate completed", rows.Err())
}

const runColumns = `id, run_key, source, target, dry_run, started_at, finished_at, summary`

// LastRun returns the most recent run, optionally restricted to runKey.
func (j *Journal) LastRun(ctx context.Context, runKey string) (types.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []interface{}
	if runKey != "" {
		query += ` WHERE run_key = ?`
		args = append(args, runKey)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	run, err := scanRun(j.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return types.Run{}, wrapDBError("last run", err)
	}
	return run, nil
}

// Runs lists runs newest first. A non-zero since filters by start time.
func (j *Journal) Runs(ctx context.Context, since time.Time, limit int) ([]types.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE started_at >= ?`
		args = append(args, since.UTC().Format(timeFormat))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list runs", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, wrapDBError("scan run", err)
		}
		runs = append(runs, run)
	}
	return runs, wrapDBError("iterate runs", rows.Err())
}

// Items returns the entries of a run key in insertion order.
func (j *Journal) Items(ctx context.Context, runKey string) ([]types.ItemRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_key, work_item_id, status, added, removed, unresolved, failures, message, recorded_at
		FROM items WHERE run_key = ? ORDER BY id`, runKey)
	if err != nil {
		return nil, wrapDBError("list items", err)
	}
	defer rows.Close()

	var out []types.ItemRecord
	for rows.Next() {
		var rec types.ItemRecord
		var status, recordedAt string
		if err := rows.Scan(&rec.RunKey, &rec.WorkItemID, &status, &rec.Added, &rec.Removed,
			&rec.Unresolved, &rec.Failures, &rec.Message, &recordedAt); err != nil {
			return nil, wrapDBError("scan item", err)
		}
		rec.Status = types.ItemStatus(status)
		rec.RecordedAt = parseTime(recordedAt)
		out = append(out, rec)
	}
	return out, wrapDBError("iterate items", rows.Err())
}

// StatusCounts tallies the latest status of every item under runKey.
func (j *Journal) StatusCounts(ctx context.Context, runKey string) (map[types.ItemStatus]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT i.status, COUNT(*)
		FROM items i
		JOIN (
			SELECT MAX(id) AS max_id FROM items WHERE run_key = ? GROUP BY work_item_id
		) latest ON latest.max_id = i.id
		GROUP BY i.status`, runKey)
	if err != nil {
		return nil, wrapDBError("status counts", err)
	}
	defer rows.Close()

	counts := make(map[types.ItemStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapDBError("scan status count", err)
		}
		counts[types.ItemStatus(status)] = n
	}
	return counts, wrapDBError("iterate status counts", rows.Err())
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s rowScanner) (types.Run, error) {
	var run types.Run
	var dryRun int
	var started string
	var finished sql.NullString
	if err := s.Scan(&run.ID, &run.RunKey, &run.Source, &run.Target, &dryRun, &started, &finished, &run.Summary); err != nil {
		return types.Run{}, err
	}
	run.DryRun = dryRun != 0
	run.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		run.FinishedAt = &t
	}
	return run, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
