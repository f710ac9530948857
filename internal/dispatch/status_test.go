package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/class-scheduler/internal/jobs"
)

func TestPhaseAtIsMonotonic(t *testing.T) {
	base := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)
	j := jobs.Job{
		DispatchTime:       base,
		SessionOpeningTime: base.Add(time.Hour),
		TargetEventTime:    base.Add(200 * time.Hour),
	}

	assert.Equal(t, PhaseScheduled, PhaseAt(j, base.Add(-time.Second)))
	assert.Equal(t, PhaseInProgress, PhaseAt(j, base))
	assert.Equal(t, PhaseInProgress, PhaseAt(j, base.Add(59*time.Minute)))
	assert.Equal(t, PhaseCompleted, PhaseAt(j, base.Add(time.Hour)))

	prev := 0
	for step := -3 * time.Hour; step <= 3*time.Hour; step += 7 * time.Minute {
		rank := PhaseAt(j, base.Add(step)).Rank()
		assert.GreaterOrEqual(t, rank, prev, "phase went backwards at %s", step)
		prev = rank
	}
}

func TestPhaseAtWhenOpeningPrecedesDispatch(t *testing.T) {
	base := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)
	j := jobs.Job{DispatchTime: base, SessionOpeningTime: base.Add(-time.Minute)}

	assert.Equal(t, PhaseScheduled, PhaseAt(j, base.Add(-time.Second)))
	assert.Equal(t, PhaseCompleted, PhaseAt(j, base))
}

func TestResolveHidesOtherUsersJobs(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.d.Schedule(ctx, drillRequest("alice", "s1"))
	require.NoError(t, err)

	mine, err := f.r.Resolve(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseScheduled, mine.Phase)
	assert.Equal(t, "Job is scheduled but has not started yet", mine.Message)
	require.NotNil(t, mine.Job)

	theirs, err := f.r.Resolve(ctx, "bob", "s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseNotFound, theirs.Phase)
	assert.Equal(t, "No job found with the provided sessionId", theirs.Message)
	assert.Nil(t, theirs.Job)
}

func TestResolveReportsDegraded(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, jobs.Put(ctx, f.store, jobs.Job{
		ID:                 jobs.ID("", "u1", "s1"),
		UserID:             "u1",
		SessionID:          "s1",
		TargetEventTime:    f.clock.Now().Add(72 * time.Hour),
		DispatchTime:       f.clock.Now().Add(time.Hour),
		SessionOpeningTime: f.clock.Now().Add(2 * time.Hour),
		LastError:          "Failed to ensure queue exists",
	}))

	st, err := f.r.Resolve(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.True(t, st.Degraded)
	assert.Equal(t, PhaseScheduled, st.Phase)
}

// flakyStore fails lookups for one id.
type flakyStore struct {
	jobs.Store
	badID string
}

func (s flakyStore) Get(ctx context.Context, id string) (jobs.Job, error) {
	if id == s.badID {
		return jobs.Job{}, errors.New("connection reset")
	}
	return s.Store.Get(ctx, id)
}

func TestResolveBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.d.Schedule(ctx, drillRequest("u1", "good"))
	require.NoError(t, err)

	r := NewResolver(flakyStore{Store: f.store, badID: jobs.ID("", "u1", "bad")}, "", WithClock(f.clock.Now))
	r.Concurrency = 2
	got := r.ResolveBatch(ctx, "u1", []string{"good", "bad", "missing"})

	require.Len(t, got, 3)
	assert.Equal(t, PhaseScheduled, got["good"].Phase)
	assert.Equal(t, PhaseNotFound, got["missing"].Phase)
	assert.NotEmpty(t, got["bad"].Error)
	assert.Empty(t, got["good"].Error)
}

func TestListReturnsPhases(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.d.Schedule(ctx, drillRequest("u1", "a"))
	require.NoError(t, err)
	_, err = f.d.Schedule(ctx, drillRequest("u2", "b"))
	require.NoError(t, err)

	got, err := f.r.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].SessionID)
}

func TestResolveJobByID(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	h, err := f.d.Schedule(ctx, drillRequest("u1", "s1"))
	require.NoError(t, err)

	st, err := f.r.ResolveJob(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, PhaseScheduled, st.Phase)
	assert.Equal(t, "s1", st.SessionID)

	st, err = f.r.ResolveJob(ctx, "class-bot-nobody-nothing")
	require.NoError(t, err)
	assert.Equal(t, PhaseNotFound, st.Phase)
}
