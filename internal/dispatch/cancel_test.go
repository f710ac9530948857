package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/class-scheduler/internal/internaltypes"
	"github.com/example/class-scheduler/internal/jobs"
	"github.com/example/class-scheduler/internal/timerule"
)

func TestCancelRemovesJobAndTask(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	h, err := f.d.Schedule(ctx, drillRequest("u1", "s1"))
	require.NoError(t, err)

	out, err := f.c.Cancel(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.False(t, out.AlreadyAbsent)
	assert.True(t, out.ExternalDeleted)
	assert.False(t, f.backend.Live(h.TaskRef))

	_, err = f.store.Get(ctx, h.JobID)
	assert.True(t, errors.Is(err, internaltypes.ErrNotFound))
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.d.Schedule(ctx, drillRequest("u1", "s1"))
	require.NoError(t, err)

	_, err = f.c.Cancel(ctx, "u1", "s1")
	require.NoError(t, err)
	again, err := f.c.Cancel(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.True(t, again.AlreadyAbsent)
	assert.Len(t, f.backend.Deleted, 1)
}

func TestCancelIgnoresOtherUsersJobs(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	h, err := f.d.Schedule(ctx, drillRequest("u-1", "s1"))
	require.NoError(t, err)

	out, err := f.c.Cancel(ctx, "u_1", "s1")
	require.NoError(t, err)
	assert.True(t, out.AlreadyAbsent)

	_, err = f.store.Get(ctx, h.JobID)
	assert.NoError(t, err)
	assert.True(t, f.backend.Live(h.TaskRef))
}

func TestCancelKeepsLocalRemovalWhenBackendFails(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	h, err := f.d.Schedule(ctx, drillRequest("u1", "s1"))
	require.NoError(t, err)
	f.backend.DeleteErr = errors.New("backend timeout")

	out, err := f.c.Cancel(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.False(t, out.ExternalDeleted)
	assert.Contains(t, out.ExternalError, "backend timeout")

	_, err = f.store.Get(ctx, h.JobID)
	assert.True(t, errors.Is(err, internaltypes.ErrNotFound))
}

func TestCancelDegradedJobSkipsBackend(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	now := f.clock.Now()
	require.NoError(t, jobs.Put(ctx, f.store, jobs.Job{
		ID: jobs.ID("", "u1", "s1"), UserID: "u1", SessionID: "s1",
		TargetEventTime: now.Add(48 * time.Hour), DispatchTime: now.Add(time.Hour), SessionOpeningTime: now.Add(time.Hour),
	}))

	out, err := f.c.Cancel(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.False(t, out.AlreadyAbsent)
	assert.False(t, out.ExternalDeleted)
	assert.Empty(t, out.ExternalError)
	assert.Empty(t, f.backend.Deleted)
}

// Walks one job through every phase and then cancels it.
func TestJobLifecycle(t *testing.T) {
	f := newFixture(t, Config{
		DispatchOffset: timerule.Offset{Days: 7, Hours: 22, Minutes: 1},
		OpeningOffset:  timerule.Offset{Days: 7, Hours: 21},
	})
	ctx := context.Background()

	h, err := f.d.Schedule(ctx, drillRequest("u1", "S1"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 12, 8, 59, 0, 0, f.loc).UTC(), h.DispatchTime)
	assert.Equal(t, time.Date(2024, 3, 12, 10, 0, 0, 0, f.loc).UTC(), h.SessionOpeningTime)

	steps := []struct {
		at   time.Time
		want Phase
	}{
		{time.Date(2024, 3, 12, 8, 0, 0, 0, f.loc), PhaseScheduled},
		{time.Date(2024, 3, 12, 9, 30, 0, 0, f.loc), PhaseInProgress},
		{time.Date(2024, 3, 12, 10, 30, 0, 0, f.loc), PhaseCompleted},
	}
	for _, s := range steps {
		f.clock.Set(s.at)
		st, err := f.r.Resolve(ctx, "u1", "S1")
		require.NoError(t, err)
		assert.Equal(t, s.want, st.Phase, "at %s", s.at)
	}

	out, err := f.c.Cancel(ctx, "u1", "S1")
	require.NoError(t, err)
	assert.True(t, out.ExternalDeleted)

	st, err := f.r.Resolve(ctx, "u1", "S1")
	require.NoError(t, err)
	assert.Equal(t, PhaseNotFound, st.Phase)
}
