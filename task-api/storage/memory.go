package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"taskboard/task-api/domain"
)

// Memory keeps tasks and users in process memory. Used for local runs and tests.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]domain.Task
	order []string
	users map[string]domain.User
}

func NewMemory() *Memory {
	return &Memory{
		tasks: make(map[string]domain.Task),
		users: make(map[string]domain.User),
	}
}

func (m *Memory) InsertTask(ctx context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return fmt.Errorf("%w: task %s already exists", domain.ErrConflict, t.ID)
	}
	m.tasks[t.ID] = t.Clone()
	m.order = append(m.order, t.ID)
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	out := t.Clone()
	return &out, nil
}

func (m *Memory) SaveTask(ctx context.Context, t domain.Task, appended []domain.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[t.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := checkAppend(cur.LastSeq(), appended); err != nil {
		return editConflict(t.ID, err)
	}
	next := t.Clone()
	next.Activities = cur.Clone().Activities
	for _, a := range appended {
		next.Activities = append(next.Activities, a.Clone())
	}
	m.tasks[t.ID] = next
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return false, nil
	}
	delete(m.tasks, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *Memory) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Task, 0, len(m.order))
	for _, id := range m.order {
		t := m.tasks[id]
		if owner != "" && t.Creator != owner {
			continue
		}
		out = append(out, t.WithoutActivities())
	}
	return out, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) PutUser(ctx context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

// editConflict rewords a conflict on save: the appended activity entries were
// already written by a concurrent edit of the same task.
func editConflict(id string, err error) error {
	if errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("%w: task %s was modified concurrently; reload and retry", domain.ErrConflict, id)
	}
	return err
}

// checkAppend rejects entries that would reuse or go back on the stored sequence.
func checkAppend(last int64, appended []domain.ActivityEntry) error {
	for _, a := range appended {
		if a.Seq <= last {
			return domain.ErrConflict
		}
		last = a.Seq
	}
	return nil
}
