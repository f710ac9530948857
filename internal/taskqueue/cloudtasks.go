package taskqueue

import (
	"context"
	"fmt"
	"net/http"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/cockroachdb/errors"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type tasksClient interface {
	CreateTask(ctx context.Context, req *cloudtaskspb.CreateTaskRequest, opts ...gax.CallOption) (*cloudtaskspb.Task, error)
	DeleteTask(ctx context.Context, req *cloudtaskspb.DeleteTaskRequest, opts ...gax.CallOption) error
	Close() error
}

// CloudTasks creates HTTP-target tasks on a Google Cloud Tasks queue.
type CloudTasks struct {
	client tasksClient
	parent string
}

// NewCloudTasks dials Cloud Tasks with application default credentials.
func NewCloudTasks(ctx context.Context, project, location, queue string) (*CloudTasks, error) {
	if project == "" || location == "" || queue == "" {
		return nil, errors.New("cloud tasks: project, location and queue are required")
	}
	c, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cloud tasks client")
	}
	return newCloudTasks(c, project, location, queue), nil
}

func newCloudTasks(c tasksClient, project, location, queue string) *CloudTasks {
	return &CloudTasks{
		client: c,
		parent: fmt.Sprintf("projects/%s/locations/%s/queues/%s", project, location, queue),
	}
}

func (c *CloudTasks) Close() error { return c.client.Close() }

// retries are owned by the caller's policy
var noRetry = gax.WithRetry(func() gax.Retryer { return nil })

func (c *CloudTasks) CreateTask(ctx context.Context, t Task) (TaskRef, error) {
	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range t.Headers {
		headers[k] = v
	}
	req := &cloudtaskspb.CreateTaskRequest{
		Parent: c.parent,
		Task: &cloudtaskspb.Task{
			MessageType: &cloudtaskspb.Task_HttpRequest{
				HttpRequest: &cloudtaskspb.HttpRequest{
					HttpMethod: cloudtaskspb.HttpMethod_POST,
					Url:        t.URL,
					Headers:    headers,
					Body:       t.Body,
				},
			},
			ScheduleTime: timestamppb.New(t.FireAt),
		},
	}
	res, err := c.client.CreateTask(ctx, req, noRetry)
	if err != nil {
		return "", fromGRPC(err, true)
	}
	return TaskRef(res.GetName()), nil
}

func (c *CloudTasks) DeleteTask(ctx context.Context, ref TaskRef) error {
	err := c.client.DeleteTask(ctx, &cloudtaskspb.DeleteTaskRequest{Name: string(ref)}, noRetry)
	if err != nil {
		return fromGRPC(err, false)
	}
	return nil
}

// fromGRPC maps a Cloud Tasks status onto StatusError so the retry policy
// can classify it. On create, a missing or unusable queue is a provisioning
// failure.
func fromGRPC(err error, creating bool) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch {
	case creating && (st.Code() == codes.NotFound || st.Code() == codes.FailedPrecondition):
		return errors.Mark(&StatusError{Code: http.StatusServiceUnavailable, Body: st.Message()}, ErrQueueProvisioning)
	case !creating && st.Code() == codes.NotFound:
		return errors.Wrap(ErrTaskNotFound, st.Message())
	}
	return &StatusError{Code: httpCode(st.Code()), Body: st.Message()}
}

func httpCode(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
