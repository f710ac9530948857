package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	target_event_at TEXT NOT NULL,
	dispatch_at TEXT NOT NULL,
	session_opening_at TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	external_task_ref TEXT,
	last_error TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id, created_at);
`

// SQLiteStore keeps jobs in a single SQLite file. One connection serialises
// writers so Update needs no row locks.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	d.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA journal_mode = WAL`,
	} {
		if _, err := d.ExecContext(ctx, pragma); err != nil {
			_ = d.Close()
			return nil, errors.Wrapf(err, "sqlite %s", pragma)
		}
	}
	if _, err := d.ExecContext(ctx, sqliteSchema); err != nil {
		_ = d.Close()
		return nil, errors.Wrap(err, "sqlite schema")
	}
	return &SQLiteStore{db: d}, nil
}

const sqliteSelect = `
SELECT job_id,user_id,session_id,target_event_at,dispatch_at,session_opening_at,payload,external_task_ref,last_error,created_at
FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (Job, error) {
	var j Job
	var target, dispatch, opening, created, payload string
	var ref, lastErr sql.NullString
	if err := row.Scan(&j.ID, &j.UserID, &j.SessionID, &target, &dispatch, &opening, &payload, &ref, &lastErr, &created); err != nil {
		return Job{}, err
	}
	var err error
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&j.TargetEventTime, target},
		{&j.DispatchTime, dispatch},
		{&j.SessionOpeningTime, opening},
		{&j.CreatedAt, created},
	} {
		if *f.dst, err = time.Parse(time.RFC3339Nano, f.src); err != nil {
			return Job{}, fmt.Errorf("sqlite: job %s: %w", j.ID, err)
		}
	}
	j.Payload = []byte(payload)
	j.ExternalTaskRef = ref.String
	j.LastError = lastErr.String
	return j.normalized(), nil
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (s *SQLiteStore) Get(ctx context.Context, id string) (Job, error) {
	j, err := scanSQLite(s.db.QueryRowContext(ctx, sqliteSelect+` WHERE job_id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, notFound(id)
	}
	return j, err
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]Job, error) {
	return s.list(ctx, sqliteSelect+` WHERE user_id=?`, userID)
}

func (s *SQLiteStore) List(ctx context.Context) ([]Job, error) {
	return s.list(ctx, sqliteSelect)
}

func (s *SQLiteStore) list(ctx context.Context, q string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// text timestamps do not sort reliably across precisions
	sortNewestFirst(out)
	return out, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn Mutator) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite: begin")
	}
	defer func() { _ = tx.Rollback() }()

	var current *Job
	j, err := scanSQLite(tx.QueryRowContext(ctx, sqliteSelect+` WHERE job_id=?`, id))
	switch {
	case err == nil:
		current = &j
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	next, write, err := apply(id, current, fn)
	if err != nil || !write {
		return err
	}
	if next == nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id=?`, id)
	} else {
		_, err = tx.ExecContext(ctx, `
INSERT INTO jobs(job_id,user_id,session_id,target_event_at,dispatch_at,session_opening_at,payload,external_task_ref,last_error,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(job_id) DO UPDATE SET
	user_id=excluded.user_id,
	session_id=excluded.session_id,
	target_event_at=excluded.target_event_at,
	dispatch_at=excluded.dispatch_at,
	session_opening_at=excluded.session_opening_at,
	payload=excluded.payload,
	external_task_ref=excluded.external_task_ref,
	last_error=excluded.last_error,
	created_at=excluded.created_at`,
			next.ID, next.UserID, next.SessionID, ts(next.TargetEventTime), ts(next.DispatchTime), ts(next.SessionOpeningTime),
			string(next.Payload), nullable(next.ExternalTaskRef), nullable(next.LastError), ts(next.CreatedAt))
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
