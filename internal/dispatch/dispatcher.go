// Package dispatch schedules booking jobs on the task backend and answers
// questions about them: status, cancellation and auto-cancellation.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/example/class-scheduler/internal/internaltypes"
	"github.com/example/class-scheduler/internal/jobs"
	"github.com/example/class-scheduler/internal/metrics"
	"github.com/example/class-scheduler/internal/retry"
	"github.com/example/class-scheduler/internal/taskqueue"
	"github.com/example/class-scheduler/internal/timerule"
)

const degradedWarning = "Task stored locally; the task backend queue is unavailable"

type Config struct {
	Namespace      string
	Location       *time.Location
	DispatchOffset timerule.Offset
	OpeningOffset  timerule.Offset
	BotURL         string // receives the task body when the job fires
	EnqueueTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = jobs.DefaultNamespace
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.DispatchOffset == (timerule.Offset{}) {
		c.DispatchOffset = timerule.DefaultDispatchOffset
	}
	if c.OpeningOffset == (timerule.Offset{}) {
		c.OpeningOffset = timerule.DefaultOpeningOffset
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 10 * time.Second
	}
	return c
}

type Option func(*options)

type options struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func WithLogger(l *zap.Logger) Option       { return func(o *options) { o.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop(), now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Request asks for a booking job for one session.
type Request struct {
	UserID    string
	SessionID string
	// EventDate is YYYY-MM-DD or M/D/YYYY; EventTime is "h:mm AM" or "HH:MM".
	EventDate string
	EventTime string
	Payload   map[string]any
	// Offset overrides the configured dispatch offset.
	Offset *timerule.Offset
}

// Handle describes a scheduled job.
type Handle struct {
	JobID              string    `json:"jobId"`
	TargetEventTime    time.Time `json:"targetEventTime"`
	DispatchTime       time.Time `json:"dispatchTime"`
	SessionOpeningTime time.Time `json:"sessionOpeningTime"`
	TaskRef            string    `json:"taskRef,omitempty"`
	Degraded           bool      `json:"degraded"`
	Warning            string    `json:"warning,omitempty"`
	Attempts           int       `json:"attempts"`
}

type Dispatcher struct {
	store   jobs.Store
	backend taskqueue.Backend
	policy  retry.Policy
	cfg     Config
	options
}

func NewDispatcher(store jobs.Store, backend taskqueue.Backend, policy retry.Policy, cfg Config, opts ...Option) *Dispatcher {
	return &Dispatcher{
		store:   store,
		backend: backend,
		policy:  policy,
		cfg:     cfg.withDefaults(),
		options: buildOptions(opts),
	}
}

func (d *Dispatcher) Config() Config { return d.cfg }

// Schedule computes the job's instants, creates the backend task under the
// retry policy and persists the job. A queue provisioning failure still
// persists the job, without a task, and reports it as degraded. Any other
// backend failure persists nothing.
func (d *Dispatcher) Schedule(ctx context.Context, req Request) (Handle, error) {
	if req.UserID == "" {
		return Handle{}, internaltypes.Validation("user id is required")
	}
	if req.SessionID == "" {
		return Handle{}, internaltypes.Validation("session id is required")
	}
	event, err := timerule.EventInstant(req.EventDate, req.EventTime, d.cfg.Location)
	if err != nil {
		d.metrics.Schedule("invalid")
		return Handle{}, err
	}
	off := d.cfg.DispatchOffset
	if req.Offset != nil {
		off = *req.Offset
	}
	job := jobs.Job{
		ID:                 jobs.ID(d.cfg.Namespace, req.UserID, req.SessionID),
		UserID:             req.UserID,
		SessionID:          req.SessionID,
		TargetEventTime:    event.UTC(),
		DispatchTime:       off.Before(event).UTC(),
		SessionOpeningTime: d.cfg.OpeningOffset.Before(event).UTC(),
		CreatedAt:          d.now().UTC(),
	}
	body, err := taskBody(job, req.Payload)
	if err != nil {
		return Handle{}, internaltypes.Wrap(internaltypes.KindValidation, err, "encode payload")
	}
	job.Payload = body

	log := d.log.With(zap.String("job_id", job.ID), zap.String("user_id", job.UserID))
	task := taskqueue.Task{URL: d.cfg.BotURL, Body: body, FireAt: job.DispatchTime}

	var ref taskqueue.TaskRef
	policy := d.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn("enqueue failed, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	attempts := 0
	enqueueErr := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		d.metrics.EnqueueAttempt()
		actx, cancel := context.WithTimeout(ctx, d.cfg.EnqueueTimeout)
		defer cancel()
		r, err := d.backend.CreateTask(actx, task)
		if err != nil {
			return err
		}
		ref = r
		return nil
	})

	h := Handle{
		JobID:              job.ID,
		TargetEventTime:    job.TargetEventTime,
		DispatchTime:       job.DispatchTime,
		SessionOpeningTime: job.SessionOpeningTime,
		Attempts:           attempts,
	}
	if enqueueErr != nil {
		if !taskqueue.IsQueueProvisioning(enqueueErr) {
			n := retry.Attempts(enqueueErr)
			if retry.IsTerminal(enqueueErr) {
				d.metrics.Schedule("rejected")
				log.Error("task backend rejected job", zap.Int("attempts", n), zap.Error(enqueueErr))
				return Handle{}, internaltypes.BackendRejected(enqueueErr, n)
			}
			d.metrics.Schedule("unavailable")
			log.Error("task backend unavailable", zap.Int("attempts", n), zap.Error(enqueueErr))
			return Handle{}, internaltypes.BackendUnavailable(enqueueErr, n)
		}
		job.LastError = errors.UnwrapAll(enqueueErr).Error()
		h.Degraded = true
		h.Warning = degradedWarning
	} else {
		job.ExternalTaskRef = string(ref)
		h.TaskRef = string(ref)
	}

	if err := d.persist(ctx, job, log); err != nil {
		if ref != "" {
			d.discardTask(ref, log)
		}
		return Handle{}, err
	}
	if h.Degraded {
		d.metrics.Schedule("degraded")
		log.Warn("job stored without backend task", zap.String("last_error", job.LastError))
	} else {
		d.metrics.Schedule("ok")
		log.Info("job scheduled", zap.Time("dispatch_at", job.DispatchTime), zap.String("task", h.TaskRef))
	}
	return h, nil
}

// persist replaces any record for the same id. A record with the same id
// but another owner is left alone.
func (d *Dispatcher) persist(ctx context.Context, job jobs.Job, log *zap.Logger) error {
	if err := job.Validate(); err != nil {
		return internaltypes.Wrap(internaltypes.KindValidation, err, "invalid job")
	}
	err := d.store.Update(ctx, job.ID, func(cur *jobs.Job) (*jobs.Job, error) {
		if cur != nil && cur.UserID != job.UserID {
			return nil, internaltypes.Newf(internaltypes.KindConflict, "job %s belongs to another user", job.ID)
		}
		if cur != nil && cur.ExternalTaskRef != "" {
			log.Warn("replacing job; previous task is still queued", zap.String("previous_task", cur.ExternalTaskRef))
		}
		return &job, nil
	})
	if err != nil {
		if internaltypes.KindOf(err) == internaltypes.KindConflict {
			return err
		}
		return internaltypes.Wrap(internaltypes.KindInternal, err, "persist job")
	}
	return nil
}

func (d *Dispatcher) discardTask(ref taskqueue.TaskRef, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.EnqueueTimeout)
	defer cancel()
	if err := d.backend.DeleteTask(ctx, ref); err != nil {
		log.Warn("could not remove task for unsaved job", zap.String("task", string(ref)), zap.Error(err))
	}
}

// taskBody is the payload plus the identifiers the bot needs to report back.
func taskBody(job jobs.Job, payload map[string]any) ([]byte, error) {
	body := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		body[k] = v
	}
	body["job_id"] = job.ID
	body["user_id"] = job.UserID
	body["session_id"] = job.SessionID
	return json.Marshal(body)
}
