package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/example/class-scheduler/internal/dispatch"
	"github.com/example/class-scheduler/internal/jobs"
	"github.com/example/class-scheduler/internal/metrics"
)

// Sweeper periodically walks every stored job, refreshes the per-phase
// gauges and warns about degraded jobs whose dispatch time has passed with
// no backend task to fire them.
type Sweeper struct {
	Store    jobs.Store
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	Schedule string // cron spec, e.g. "@every 1m"
	Now      func() time.Time

	mu sync.Mutex
}

type Report struct {
	Counts          map[dispatch.Phase]int
	DegradedOverdue []string
}

func (s *Sweeper) Run(ctx context.Context) error {
	spec := s.Schedule
	if spec == "" {
		spec = "@every 1m"
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", spec, err)
	}

	// kick immediately
	s.tick(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *Sweeper) tick(ctx context.Context) {
	// overlapping runs are skipped
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()
	if _, err := s.Sweep(ctx); err != nil {
		s.log().Warn("sweep failed", zap.Error(err))
	}
}

// Sweep performs one pass and returns what it found.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	js, err := s.Store.List(ctx)
	if err != nil {
		return Report{}, err
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	rep := Report{Counts: map[dispatch.Phase]int{
		dispatch.PhaseScheduled:  0,
		dispatch.PhaseInProgress: 0,
		dispatch.PhaseCompleted:  0,
	}}
	for _, j := range js {
		rep.Counts[dispatch.PhaseAt(j, now)]++
		if j.Degraded() && !now.Before(j.DispatchTime) && now.Before(j.SessionOpeningTime) {
			rep.DegradedOverdue = append(rep.DegradedOverdue, j.ID)
			s.log().Warn("degraded job passed its dispatch time without a backend task",
				zap.String("job_id", j.ID),
				zap.String("user_id", j.UserID),
				zap.Time("dispatch_time", j.DispatchTime),
				zap.String("last_error", j.LastError))
		}
	}

	gauges := make(map[string]int, len(rep.Counts))
	for p, n := range rep.Counts {
		gauges[string(p)] = n
	}
	s.Metrics.SetPhaseCounts(gauges, len(rep.DegradedOverdue))
	s.log().Debug("sweep done", zap.Int("jobs", len(js)), zap.Int("degraded_overdue", len(rep.DegradedOverdue)))
	return rep, nil
}

func (s *Sweeper) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
