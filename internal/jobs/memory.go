package jobs

import (
	"context"
	"sync"
)

// MemoryStore keeps jobs in process. It backs tests and the memory driver.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, notFound(id)
	}
	return j.normalized(), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if j.UserID == userID {
			out = append(out, j.normalized())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.normalized())
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn Mutator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current *Job
	if j, ok := m.jobs[id]; ok {
		c := j.normalized()
		current = &c
	}
	next, write, err := apply(id, current, fn)
	if err != nil || !write {
		return err
	}
	if next == nil {
		delete(m.jobs, id)
		return nil
	}
	m.jobs[id] = *next
	return nil
}

func (m *MemoryStore) Close() error { return nil }
