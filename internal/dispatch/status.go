package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/class-scheduler/internal/internaltypes"
	"github.com/example/class-scheduler/internal/jobs"
)

// Phase is where a job stands relative to the clock. For a fixed job the
// phase only moves forward as time passes.
type Phase string

const (
	PhaseNotFound   Phase = "not_found"
	PhaseScheduled  Phase = "scheduled"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
)

var phaseMessages = map[Phase]string{
	PhaseNotFound:   "No job found with the provided sessionId",
	PhaseScheduled:  "Job is scheduled but has not started yet",
	PhaseInProgress: "First script should be running or completed",
	PhaseCompleted:  "Session booking should be completed",
}

func (p Phase) Message() string { return phaseMessages[p] }

// Rank orders phases so callers can check monotonicity.
func (p Phase) Rank() int {
	switch p {
	case PhaseScheduled:
		return 1
	case PhaseInProgress:
		return 2
	case PhaseCompleted:
		return 3
	}
	return 0
}

// PhaseAt derives j's phase at now. Before the dispatch time the job is
// scheduled; from then until the session opens it is in progress; after
// that it is completed.
func PhaseAt(j jobs.Job, now time.Time) Phase {
	switch {
	case now.Before(j.DispatchTime):
		return PhaseScheduled
	case now.Before(j.SessionOpeningTime):
		return PhaseInProgress
	}
	return PhaseCompleted
}

type Status struct {
	SessionID string    `json:"sessionId"`
	JobID     string    `json:"jobId"`
	Phase     Phase     `json:"status"`
	Message   string    `json:"message"`
	Degraded  bool      `json:"degraded,omitempty"`
	Job       *jobs.Job `json:"details,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type Resolver struct {
	store     jobs.Store
	namespace string
	// Concurrency bounds batch lookups.
	Concurrency int
	options
}

func NewResolver(store jobs.Store, namespace string, opts ...Option) *Resolver {
	if namespace == "" {
		namespace = jobs.DefaultNamespace
	}
	return &Resolver{store: store, namespace: namespace, Concurrency: 8, options: buildOptions(opts)}
}

// Resolve reports the status of userID's job for sessionID. Jobs owned by
// anyone else are indistinguishable from missing ones.
func (r *Resolver) Resolve(ctx context.Context, userID, sessionID string) (Status, error) {
	if userID == "" || sessionID == "" {
		return Status{}, internaltypes.Validation("user id and session id are required")
	}
	id := jobs.ID(r.namespace, userID, sessionID)
	j, err := jobs.GetOwned(ctx, r.store, userID, id)
	if err != nil {
		if internaltypes.KindOf(err) == internaltypes.KindNotFound {
			return Status{SessionID: sessionID, JobID: id, Phase: PhaseNotFound, Message: PhaseNotFound.Message()}, nil
		}
		return Status{}, internaltypes.Wrap(internaltypes.KindInternal, err, "lookup job")
	}
	return r.statusOf(j), nil
}

// ResolveJob reports the status of a job by id without an ownership check.
// It serves operator tooling; user-facing callers use Resolve.
func (r *Resolver) ResolveJob(ctx context.Context, jobID string) (Status, error) {
	j, err := r.store.Get(ctx, jobID)
	if err != nil {
		if internaltypes.KindOf(err) == internaltypes.KindNotFound {
			return Status{JobID: jobID, Phase: PhaseNotFound, Message: PhaseNotFound.Message()}, nil
		}
		return Status{}, internaltypes.Wrap(internaltypes.KindInternal, err, "lookup job")
	}
	return r.statusOf(j), nil
}

func (r *Resolver) statusOf(j jobs.Job) Status {
	p := PhaseAt(j, r.now())
	return Status{
		SessionID: j.SessionID,
		JobID:     j.ID,
		Phase:     p,
		Message:   p.Message(),
		Degraded:  j.Degraded(),
		Job:       &j,
	}
}

// ResolveBatch looks up several sessions concurrently. A failed lookup is
// reported in that session's entry and does not affect the others.
func (r *Resolver) ResolveBatch(ctx context.Context, userID string, sessionIDs []string) map[string]Status {
	out := make(map[string]Status, len(sessionIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Concurrency, 1))
	for _, sid := range sessionIDs {
		g.Go(func() error {
			st, err := r.Resolve(gctx, userID, sid)
			if err != nil {
				r.log.Warn("status lookup failed", zap.String("session_id", sid), zap.Error(err))
				st = Status{SessionID: sid, Error: err.Error()}
			}
			mu.Lock()
			out[sid] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// List returns userID's jobs with their current phase.
func (r *Resolver) List(ctx context.Context, userID string) ([]Status, error) {
	js, err := r.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, internaltypes.Wrap(internaltypes.KindInternal, err, "list jobs")
	}
	out := make([]Status, 0, len(js))
	for _, j := range js {
		out = append(out, r.statusOf(j))
	}
	return out, nil
}
