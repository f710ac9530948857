package testfixtures

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/class-scheduler/internal/taskqueue"
)

// Backend is an in-memory taskqueue.Backend. CreateErrs are returned by
// successive CreateTask calls before it starts succeeding.
type Backend struct {
	mu         sync.Mutex
	CreateErrs []error
	DeleteErr  error
	Created    []taskqueue.Task
	Deleted    []taskqueue.TaskRef
	calls      int
	live       map[taskqueue.TaskRef]bool
}

func (b *Backend) CreateTask(_ context.Context, t taskqueue.Task) (taskqueue.TaskRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.CreateErrs) > 0 {
		err := b.CreateErrs[0]
		b.CreateErrs = b.CreateErrs[1:]
		return "", err
	}
	if b.live == nil {
		b.live = make(map[taskqueue.TaskRef]bool)
	}
	ref := taskqueue.TaskRef(fmt.Sprintf("tasks/%d", len(b.Created)+1))
	b.Created = append(b.Created, t)
	b.live[ref] = true
	return ref, nil
}

func (b *Backend) DeleteTask(_ context.Context, ref taskqueue.TaskRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DeleteErr != nil {
		return b.DeleteErr
	}
	if !b.live[ref] {
		return fmt.Errorf("task %s: %w", ref, taskqueue.ErrTaskNotFound)
	}
	delete(b.live, ref)
	b.Deleted = append(b.Deleted, ref)
	return nil
}

// Calls is the number of CreateTask invocations.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Live reports whether ref was created and not yet deleted.
func (b *Backend) Live(ref string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live[taskqueue.TaskRef(ref)]
}
