package dispatch

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/example/class-scheduler/internal/internaltypes"
	"github.com/example/class-scheduler/internal/jobs"
	"github.com/example/class-scheduler/internal/taskqueue"
)

type CancelOutcome struct {
	JobID           string `json:"jobId"`
	AlreadyAbsent   bool   `json:"alreadyAbsent"`
	ExternalDeleted bool   `json:"externalDeleted"`
	ExternalError   string `json:"externalError,omitempty"`
}

type Canceller struct {
	store     jobs.Store
	backend   taskqueue.Backend
	namespace string
	timeout   time.Duration
	options
}

func NewCanceller(store jobs.Store, backend taskqueue.Backend, namespace string, deleteTimeout time.Duration, opts ...Option) *Canceller {
	if namespace == "" {
		namespace = jobs.DefaultNamespace
	}
	if deleteTimeout <= 0 {
		deleteTimeout = 10 * time.Second
	}
	return &Canceller{store: store, backend: backend, namespace: namespace, timeout: deleteTimeout, options: buildOptions(opts)}
}

// Cancel removes userID's job for sessionID and then tries to delete its
// backend task. A missing job, or one owned by someone else, yields
// AlreadyAbsent. A backend failure is reported in the outcome and does not
// bring the local record back.
func (c *Canceller) Cancel(ctx context.Context, userID, sessionID string) (CancelOutcome, error) {
	if userID == "" || sessionID == "" {
		return CancelOutcome{}, internaltypes.Validation("user id and session id are required")
	}
	id := jobs.ID(c.namespace, userID, sessionID)
	out := CancelOutcome{JobID: id}

	var removed *jobs.Job
	err := c.store.Update(ctx, id, func(cur *jobs.Job) (*jobs.Job, error) {
		if cur == nil || cur.UserID != userID {
			return cur, nil
		}
		j := *cur
		removed = &j
		return nil, nil
	})
	if err != nil {
		return CancelOutcome{}, internaltypes.Wrap(internaltypes.KindInternal, err, "remove job")
	}
	log := c.log.With(zap.String("job_id", id), zap.String("user_id", userID))
	if removed == nil {
		c.metrics.Cancel("absent")
		out.AlreadyAbsent = true
		return out, nil
	}

	if removed.ExternalTaskRef != "" {
		dctx, cancel := context.WithTimeout(ctx, c.timeout)
		derr := c.backend.DeleteTask(dctx, taskqueue.TaskRef(removed.ExternalTaskRef))
		cancel()
		switch {
		case derr == nil, errors.Is(derr, taskqueue.ErrTaskNotFound):
			out.ExternalDeleted = true
		default:
			out.ExternalError = derr.Error()
			c.metrics.Cancel("external_failed")
			log.Warn("job removed but backend task delete failed", zap.String("task", removed.ExternalTaskRef), zap.Error(derr))
		}
	}
	c.metrics.Cancel("removed")
	log.Info("job cancelled", zap.Bool("external_deleted", out.ExternalDeleted))
	return out, nil
}
