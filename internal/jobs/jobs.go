// Package jobs holds the scheduled-booking record and the stores that keep
// it. A job is keyed by a deterministic id derived from its owner and the
// session it books.
package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const DefaultNamespace = "class-bot"

type Job struct {
	ID                 string          `json:"jobId"`
	UserID             string          `json:"userId"`
	SessionID          string          `json:"sessionId"`
	TargetEventTime    time.Time       `json:"targetEventTime"`
	DispatchTime       time.Time       `json:"dispatchTime"`
	SessionOpeningTime time.Time       `json:"sessionOpeningTime"`
	Payload            json.RawMessage `json:"payload"`
	// ExternalTaskRef is empty for degraded jobs the backend never accepted.
	ExternalTaskRef string    `json:"externalTaskRef,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	LastError       string    `json:"lastError,omitempty"`
}

// Degraded reports whether the job was persisted without a backend task.
func (j Job) Degraded() bool { return j.ExternalTaskRef == "" }

// ID derives the job key for a user's session. Every character outside
// [a-z0-9] in either part becomes '-', after lowercasing.
func ID(namespace, userID, sessionID string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + "-" + normalize(userID) + "-" + normalize(sessionID)
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job_id required")
	}
	if j.UserID == "" {
		return fmt.Errorf("user_id required")
	}
	if j.SessionID == "" {
		return fmt.Errorf("session_id required")
	}
	if j.TargetEventTime.IsZero() || j.DispatchTime.IsZero() || j.SessionOpeningTime.IsZero() {
		return fmt.Errorf("event, dispatch and opening times required")
	}
	if j.DispatchTime.After(j.TargetEventTime) {
		return fmt.Errorf("dispatch time must not be after the event")
	}
	if len(j.Payload) > 0 && !json.Valid(j.Payload) {
		return fmt.Errorf("payload must be valid JSON")
	}
	return nil
}

// normalized returns j with UTC instants and an owned payload copy.
func (j Job) normalized() Job {
	j.TargetEventTime = j.TargetEventTime.UTC()
	j.DispatchTime = j.DispatchTime.UTC()
	j.SessionOpeningTime = j.SessionOpeningTime.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	if len(j.Payload) == 0 {
		j.Payload = json.RawMessage(`{}`)
	} else {
		j.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	return j
}
