package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIDNormalizesBothParts(t *testing.T) {
	assert.Equal(t, "class-bot-user-42-abc-def", ID("", "User_42", "ABC def"))
	assert.Equal(t, "ns-u1-s-1", ID("ns", "u1", "s.1"))
	assert.Equal(t, "class-bot-caf--s1", ID("", "café", "s1"))
}

func TestIDIsDeterministic(t *testing.T) {
	assert.Equal(t, ID("class-bot", "u1", "s1"), ID("class-bot", "u1", "s1"))
	assert.NotEqual(t, ID("class-bot", "u1", "s1"), ID("class-bot", "u2", "s1"))
}

func TestValidate(t *testing.T) {
	now := time.Date(2024, 3, 20, 11, 0, 0, 0, time.UTC)
	j := Job{
		ID:                 "class-bot-u1-s1",
		UserID:             "u1",
		SessionID:          "s1",
		TargetEventTime:    now,
		DispatchTime:       now.Add(-time.Hour),
		SessionOpeningTime: now.Add(-time.Hour),
		Payload:            []byte(`{"title":"Drill"}`),
	}
	assert.NoError(t, j.Validate())

	bad := j
	bad.UserID = ""
	assert.Error(t, bad.Validate())

	bad = j
	bad.DispatchTime = now.Add(time.Hour)
	assert.Error(t, bad.Validate())

	bad = j
	bad.Payload = []byte(`{not json`)
	assert.Error(t, bad.Validate())
}

func TestDegraded(t *testing.T) {
	assert.True(t, Job{}.Degraded())
	assert.False(t, Job{ExternalTaskRef: "tasks/1"}.Degraded())
}
