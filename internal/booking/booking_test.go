package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/example/class-scheduler/internal/credentials"
	"github.com/example/class-scheduler/internal/dispatch"
	"github.com/example/class-scheduler/internal/internaltypes"
)

func TestSkillLevel(t *testing.T) {
	tests := []struct {
		title, subtitle, want string
	}{
		{"Open Play", "Skill Level: 3.5+ (DUPR)", "3.5+"},
		{"Open Play", "Skill Level: Intermediate", "Intermediate"},
		{"Pickleball All Levels Drill", "", "All Levels"},
		{"Beginner Clinic", "", "Beginner"},
		{"Advanced Drill", "", "Advanced"},
		{"Drill 3.0-3.5", "", "3.0-3.5"},
		{"Drill 4.0+", "", "4.0+"},
		{"Morning Drill", "", "All Levels"},
	}
	for _, tt := range tests {
		t.Run(tt.title+"/"+tt.subtitle, func(t *testing.T) {
			assert.Equal(t, tt.want, SkillLevel(tt.title, tt.subtitle))
		})
	}
}

type recordingScheduler struct {
	got dispatch.Request
}

func (r *recordingScheduler) Schedule(_ context.Context, req dispatch.Request) (dispatch.Handle, error) {
	r.got = req
	return dispatch.Handle{JobID: "class-bot-u1-s1"}, nil
}

func newService(t *testing.T, creds credentials.Provider) (*Service, *recordingScheduler) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	rs := &recordingScheduler{}
	s := NewService(creds, rs, loc, zaptest.NewLogger(t))
	s.SetClock(func() time.Time { return time.Date(2024, 3, 20, 10, 0, 0, 0, loc) })
	return s, rs
}

func TestBookBuildsPayloadWithoutSecrets(t *testing.T) {
	creds := credentials.Static{"u1": {UserID: "u1", Username: "me@example.com", Password: "hunter2", MemberID: "M-9", PrimaryName: "Pat"}}
	s, rs := newService(t, creds)

	res, err := s.Book(context.Background(), "u1", Request{
		SessionID: "s1", Title: "Morning Drill 3.5+", Day: "Friday", DayOfMonth: 5, StartTime: "7:00 AM", Location: "Court 2",
	})
	require.NoError(t, err)

	assert.Equal(t, "2024-04-05", res.SessionDate)
	assert.Equal(t, "3.5+", res.SkillLevel)
	assert.Equal(t, "2024-04-05", rs.got.EventDate)
	assert.Equal(t, "7:00 AM", rs.got.EventTime)
	assert.Equal(t, "credentials/u1", rs.got.Payload["credentials_ref"])
	assert.Equal(t, "M-9", rs.got.Payload["member_id"])
	assert.Equal(t, "Pat", rs.got.Payload["primary_name"])
	for _, v := range rs.got.Payload {
		assert.NotEqual(t, "hunter2", v)
	}
}

func TestBookRequiresCredentials(t *testing.T) {
	s, _ := newService(t, credentials.Static{})

	_, err := s.Book(context.Background(), "u1", Request{SessionID: "s1", Date: "2024-03-25", StartTime: "7:00 AM"})

	assert.Equal(t, internaltypes.KindCredentialsMissing, internaltypes.KindOf(err))
	assert.NotEmpty(t, internaltypes.Hint(err))
}

func TestBookValidatesDate(t *testing.T) {
	creds := credentials.Static{"u1": {Username: "a", Password: "b"}}
	s, _ := newService(t, creds)

	_, err := s.Book(context.Background(), "u1", Request{SessionID: "s1", StartTime: "7:00 AM"})
	assert.Equal(t, internaltypes.KindValidation, internaltypes.KindOf(err))

	_, err = s.Book(context.Background(), "u1", Request{SessionID: "s1", Date: "tomorrow", StartTime: "7:00 AM"})
	assert.Equal(t, internaltypes.KindInvalidTimeFormat, internaltypes.KindOf(err))
}
