// Package taskqueue talks to the delayed-task backend that fires the
// booking bot at a job's dispatch time.
package taskqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// TaskRef is the backend's handle for a created task.
type TaskRef string

// Task is a one-shot HTTP POST the backend delivers at FireAt.
type Task struct {
	URL     string
	Body    []byte
	Headers map[string]string
	FireAt  time.Time
}

type Backend interface {
	CreateTask(ctx context.Context, t Task) (TaskRef, error)
	DeleteTask(ctx context.Context, ref TaskRef) error
}

var (
	// ErrQueueProvisioning means the backend's queue is missing or cannot be
	// verified. Jobs are kept locally without a task when this is the cause.
	ErrQueueProvisioning = errors.New("Failed to ensure queue exists")
	ErrTaskNotFound      = errors.New("task not found")
)

// Backends built before typed errors existed report queue trouble only in
// the message text.
var queueSignatures = []string{
	"Failed to ensure queue exists",
	"Could not create or verify queue existence",
}

// IsQueueProvisioning reports whether err anywhere in its chain signals a
// queue provisioning failure.
func IsQueueProvisioning(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQueueProvisioning) {
		return true
	}
	msg := err.Error()
	for _, sig := range queueSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// StatusError is a non-success answer from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("task backend status %d: %s", e.Code, strings.TrimSpace(e.Body))
}

func (e *StatusError) StatusCode() int { return e.Code }
