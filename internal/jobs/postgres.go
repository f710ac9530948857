package jobs

import (
	"context"

	"github.com/example/class-scheduler/internal/db"
)

// Repo stores jobs in Postgres. Schema lives in internal/migrate.
type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

const selectJob = `
SELECT job_id,user_id,session_id,target_event_at,dispatch_at,session_opening_at,payload,external_task_ref,last_error,created_at
FROM jobs`

func scanJob(row db.Row) (Job, error) {
	var j Job
	var payload []byte
	var ref, lastErr *string
	if err := row.Scan(&j.ID, &j.UserID, &j.SessionID, &j.TargetEventTime, &j.DispatchTime, &j.SessionOpeningTime,
		&payload, &ref, &lastErr, &j.CreatedAt); err != nil {
		return Job{}, err
	}
	j.Payload = payload
	if ref != nil {
		j.ExternalTaskRef = *ref
	}
	if lastErr != nil {
		j.LastError = *lastErr
	}
	return j.normalized(), nil
}

func (r *Repo) Get(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, selectJob+` WHERE job_id=$1`, id))
	if err != nil {
		if db.IsNotFound(err) {
			return Job{}, notFound(id)
		}
		return Job{}, db.WrapNotFound(err)
	}
	return j, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID string) ([]Job, error) {
	return r.list(ctx, selectJob+` WHERE user_id=$1 ORDER BY created_at DESC, job_id`, userID)
}

func (r *Repo) List(ctx context.Context) ([]Job, error) {
	return r.list(ctx, selectJob+` ORDER BY created_at DESC, job_id`)
}

func (r *Repo) list(ctx context.Context, sql string, args ...any) ([]Job, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of fn.
func (r *Repo) Update(ctx context.Context, id string, fn Mutator) error {
	return r.db.InTx(ctx, func(tx db.Tx) error {
		var current *Job
		j, err := scanJob(tx.QueryRow(ctx, selectJob+` WHERE job_id=$1 FOR UPDATE`, id))
		switch {
		case err == nil:
			current = &j
		case !db.IsNotFound(err):
			return db.WrapNotFound(err)
		}

		next, write, err := apply(id, current, fn)
		if err != nil || !write {
			return err
		}
		if next == nil {
			return tx.Exec(ctx, `DELETE FROM jobs WHERE job_id=$1`, id)
		}
		return tx.Exec(ctx, `
INSERT INTO jobs(job_id,user_id,session_id,target_event_at,dispatch_at,session_opening_at,payload,external_task_ref,last_error,created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (job_id) DO UPDATE SET
	user_id=EXCLUDED.user_id,
	session_id=EXCLUDED.session_id,
	target_event_at=EXCLUDED.target_event_at,
	dispatch_at=EXCLUDED.dispatch_at,
	session_opening_at=EXCLUDED.session_opening_at,
	payload=EXCLUDED.payload,
	external_task_ref=EXCLUDED.external_task_ref,
	last_error=EXCLUDED.last_error,
	created_at=EXCLUDED.created_at`,
			next.ID, next.UserID, next.SessionID, next.TargetEventTime, next.DispatchTime, next.SessionOpeningTime,
			[]byte(next.Payload), nullable(next.ExternalTaskRef), nullable(next.LastError), next.CreatedAt)
	})
}

func (r *Repo) Close() error { return nil }

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
