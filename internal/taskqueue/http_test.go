package taskqueue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/class-scheduler/internal/retry"
)

func TestHTTPBackendCreateTask(t *testing.T) {
	fireAt := time.Date(2024, 3, 12, 12, 59, 0, 0, time.UTC)
	var got createRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tasks", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(createResponse{Name: "tasks/abc"})
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL+"/", "secret")
	ref, err := b.CreateTask(context.Background(), Task{
		URL:    "https://bot.example.com/run",
		Body:   []byte(`{"job_id":"class-bot-u1-s1"}`),
		FireAt: fireAt,
	})

	require.NoError(t, err)
	assert.Equal(t, TaskRef("tasks/abc"), ref)
	assert.Equal(t, "https://bot.example.com/run", got.URL)
	assert.JSONEq(t, `{"job_id":"class-bot-u1-s1"}`, string(got.Body))
	assert.Equal(t, "2024-03-12T12:59:00Z", got.ScheduleTime)
}

func TestHTTPBackendStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Could not create or verify queue existence", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, "")

	_, err := b.CreateTask(context.Background(), Task{URL: "https://bot", FireAt: time.Now()})
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode())
	assert.True(t, retry.Transient(err))
	assert.True(t, IsQueueProvisioning(err))

	err = b.DeleteTask(context.Background(), "tasks/gone")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestIsQueueProvisioning(t *testing.T) {
	assert.True(t, IsQueueProvisioning(errors.Wrap(ErrQueueProvisioning, "create")))
	assert.True(t, IsQueueProvisioning(&StatusError{Code: 500, Body: "Failed to ensure queue exists: boom"}))
	assert.True(t, IsQueueProvisioning(&retry.Error{Attempts: 3, Err: &StatusError{Code: 503, Body: "Could not create or verify queue existence"}}))
	assert.False(t, IsQueueProvisioning(&StatusError{Code: 503, Body: "overloaded"}))
	assert.False(t, IsQueueProvisioning(nil))
}
