package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func drill() Session {
	return Session{ID: "s1", Title: "Pickleball Morning DRILL", Date: "3/20/2024", StartTime: "7:00 AM"}
}

func TestAutoCancelRuleEvaluate(t *testing.T) {
	loc := newYork(t)
	rule := DefaultAutoCancelRule(loc)
	at := func(day, hour, min int) time.Time { return time.Date(2024, 3, day, hour, min, 0, 0, loc) }

	tests := []struct {
		name      string
		session   Session
		confirmed bool
		now       time.Time
		cancel    bool
		reason    string
	}{
		{"fires in window", drill(), false, at(20, 6, 0), true, "Auto-cancelled: Morning drill not confirmed by 9 PM the night before"},
		{"window start is inclusive", drill(), false, at(20, 5, 0), true, "Auto-cancelled: Morning drill not confirmed by 9 PM the night before"},
		{"confirmed", drill(), true, at(20, 6, 0), false, "Session is confirmed"},
		{"before cutoff", drill(), false, at(19, 20, 59), false, "Confirmation deadline not passed"},
		{"after cutoff but early", drill(), false, at(20, 4, 59), false, "Not within auto-cancel window"},
		{"at start time", drill(), false, at(20, 7, 0), false, "Not within auto-cancel window"},
		{"not a drill", Session{ID: "s2", Title: "Open Play", Date: "3/20/2024", StartTime: "7:00 AM"}, false, at(20, 6, 0), false, "Not a morning drill session"},
		{"afternoon drill", Session{ID: "s3", Title: "Drill", Date: "3/20/2024", StartTime: "1:00 PM"}, false, at(20, 12, 0), false, "Not a morning drill session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := rule.Evaluate(tt.session, tt.confirmed, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.cancel, d.Cancel)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestAutoCancelRuleNoonCountsAsMorning(t *testing.T) {
	rule := DefaultAutoCancelRule(time.UTC)
	assert.True(t, rule.Applies(Session{Title: "drill", StartTime: "12:00 PM"}))
	assert.False(t, rule.Applies(Session{Title: "drill", StartTime: "bogus"}))
}

type stubCanceller struct {
	calls []string
	fail  map[string]error
	panic string
}

func (s *stubCanceller) Cancel(_ context.Context, userID, sessionID string) (CancelOutcome, error) {
	if sessionID == s.panic {
		panic("store exploded")
	}
	s.calls = append(s.calls, sessionID)
	if err := s.fail[sessionID]; err != nil {
		return CancelOutcome{}, err
	}
	return CancelOutcome{JobID: userID + "-" + sessionID, ExternalDeleted: true}, nil
}

func TestAutoCancellerRunIsolatesItems(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 20, 6, 0, 0, 0, loc)
	stub := &stubCanceller{fail: map[string]error{"broken": errors.New("store down")}, panic: "boom"}
	a := NewAutoCanceller(DefaultAutoCancelRule(loc), stub,
		WithLogger(zaptest.NewLogger(t)), WithClock(func() time.Time { return now }))

	mk := func(id string) Session { s := drill(); s.ID = id; return s }
	confirmed := mk("kept")
	confirmed.Confirmed = true
	badTime := mk("badtime")
	badTime.Date = "20th of March"

	got := a.Run(context.Background(), "u1", []Session{mk("ok"), mk("broken"), mk("boom"), confirmed, badTime})

	require.Len(t, got, 5)
	assert.True(t, got["ok"].Cancelled)
	assert.NotNil(t, got["ok"].Outcome)
	assert.False(t, got["broken"].Cancelled)
	assert.Contains(t, got["broken"].Error, "store down")
	assert.Contains(t, got["boom"].Error, "store exploded")
	assert.Equal(t, "Session is confirmed", got["kept"].Reason)
	assert.NotEmpty(t, got["badtime"].Error)
	assert.Equal(t, []string{"ok", "broken"}, stub.calls)
}

func TestAutoCancellerUsesRealCanceller(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.d.Schedule(ctx, drillRequest("u1", "s1"))
	require.NoError(t, err)

	f.clock.Set(time.Date(2024, 3, 20, 6, 30, 0, 0, f.loc))
	a := NewAutoCanceller(DefaultAutoCancelRule(f.loc), f.c, WithClock(f.clock.Now))
	s := drill()
	s.Date = "2024-03-20"
	got := a.Run(ctx, "u1", []Session{s})

	assert.True(t, got["s1"].Cancelled)
	st, err := f.r.Resolve(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseNotFound, st.Phase)
}
