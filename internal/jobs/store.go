package jobs

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/example/class-scheduler/internal/internaltypes"
)

// Mutator receives the current record (nil when absent) and returns the
// replacement. Returning nil deletes the record. Returning current itself
// leaves the record untouched. An error aborts the update.
type Mutator func(current *Job) (*Job, error)

// Store persists jobs. Update is atomic per job id.
type Store interface {
	Get(ctx context.Context, id string) (Job, error)
	ListByUser(ctx context.Context, userID string) ([]Job, error)
	List(ctx context.Context) ([]Job, error)
	Update(ctx context.Context, id string, fn Mutator) error
	Close() error
}

// Put writes j, replacing any record with the same id.
func Put(ctx context.Context, s Store, j Job) error {
	if err := j.Validate(); err != nil {
		return internaltypes.Wrap(internaltypes.KindValidation, err, "invalid job")
	}
	return s.Update(ctx, j.ID, func(*Job) (*Job, error) { return &j, nil })
}

// Delete removes id. Deleting an absent job is not an error.
func Delete(ctx context.Context, s Store, id string) error {
	return s.Update(ctx, id, func(*Job) (*Job, error) { return nil, nil })
}

// GetOwned returns the job only when userID owns it. A job owned by
// someone else is reported as not found.
func GetOwned(ctx context.Context, s Store, userID, id string) (Job, error) {
	j, err := s.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if j.UserID != userID {
		return Job{}, errors.Wrapf(internaltypes.ErrNotFound, "job %s", id)
	}
	return j, nil
}

func notFound(id string) error {
	return errors.Wrapf(internaltypes.ErrNotFound, "job %s", id)
}

// apply runs fn against current and reports what the store must do.
// write is false when the record stays as it is.
func apply(id string, current *Job, fn Mutator) (next *Job, write bool, err error) {
	next, err = fn(current)
	if err != nil {
		return nil, false, err
	}
	if next == nil {
		return nil, current != nil, nil
	}
	if current != nil && next == current {
		return current, false, nil
	}
	if next.ID != id {
		return nil, false, errors.Newf("jobs: mutator changed id %q to %q", id, next.ID)
	}
	n := next.normalized()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return &n, true, nil
}

func sortNewestFirst(js []Job) {
	sort.SliceStable(js, func(a, b int) bool {
		if js[a].CreatedAt.Equal(js[b].CreatedAt) {
			return js[a].ID < js[b].ID
		}
		return js[a].CreatedAt.After(js[b].CreatedAt)
	})
}
