package taskqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// HTTPBackend drives a delayed-task service over a small JSON API:
//
//	POST   {base}/tasks          {"url","headers","body","scheduleTime"} -> {"name"}
//	DELETE {base}/tasks/{name}
//
// body is base64 encoded and scheduleTime is RFC 3339.
type HTTPBackend struct {
	hc    *http.Client
	base  string
	token string
}

func NewHTTPBackend(baseURL, token string) *HTTPBackend {
	return &HTTPBackend{
		hc:    &http.Client{Timeout: 10 * time.Second},
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
	}
}

type createRequest struct {
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         []byte            `json:"body"`
	ScheduleTime string            `json:"scheduleTime"`
}

type createResponse struct {
	Name string `json:"name"`
}

func (b *HTTPBackend) CreateTask(ctx context.Context, t Task) (TaskRef, error) {
	payload, err := json.Marshal(createRequest{
		URL:          t.URL,
		Headers:      t.Headers,
		Body:         t.Body,
		ScheduleTime: t.FireAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	status, body, err := b.do(ctx, http.MethodPost, b.base+"/tasks", payload)
	if err != nil {
		return "", errors.Wrap(err, "create task")
	}
	if status < 200 || status > 299 {
		return "", &StatusError{Code: status, Body: string(body)}
	}
	var res createResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", errors.Wrap(err, "decode create task response")
	}
	if res.Name == "" {
		return "", errors.New("create task: backend returned no task name")
	}
	return TaskRef(res.Name), nil
}

func (b *HTTPBackend) DeleteTask(ctx context.Context, ref TaskRef) error {
	status, body, err := b.do(ctx, http.MethodDelete, b.base+"/tasks/"+url.PathEscape(string(ref)), nil)
	if err != nil {
		return errors.Wrap(err, "delete task")
	}
	switch {
	case status == http.StatusNotFound:
		return errors.Wrapf(ErrTaskNotFound, "task %s", ref)
	case status < 200 || status > 299:
		return &StatusError{Code: status, Body: string(body)}
	}
	return nil
}

func (b *HTTPBackend) do(ctx context.Context, method, rawURL string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("authorization", fmt.Sprintf("Bearer %s", b.token))
	}
	res, err := b.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	out, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, out, nil
}
