package domain

import (
	"context"
	"errors"
	"time"
)

type fakeStore struct {
	tasks    map[string]Task
	order    []string
	saves    int
	appended [][]ActivityEntry
	saveErr  error
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) error {
	if f.tasks == nil {
		f.tasks = map[string]Task{}
	}
	if _, exists := f.tasks[t.ID]; exists {
		return errors.New("duplicate task")
	}
	f.tasks[t.ID] = t.Clone()
	f.order = append(f.order, t.ID)
	return nil
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (*Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	out := t.Clone()
	return &out, nil
}

func (f *fakeStore) SaveTask(ctx context.Context, t Task, appended []ActivityEntry) error {
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	if _, ok := f.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	f.tasks[t.ID] = t.Clone()
	f.appended = append(f.appended, appended)
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	if _, ok := f.tasks[id]; !ok {
		return false, nil
	}
	delete(f.tasks, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, owner string) ([]Task, error) {
	out := []Task{}
	for _, id := range f.order {
		t := f.tasks[id]
		if owner != "" && t.Creator != owner {
			continue
		}
		out = append(out, t.Clone())
	}
	return out, nil
}

type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestService(fs *fakeStore) *TaskService {
	clock := &stepClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	var taskN, commentN int
	return NewTaskService(fs,
		WithClock(clock.Now),
		WithIDGenerators(
			func() string { taskN++; return "task-" + string(rune('0'+taskN)) },
			func() string { commentN++; return "comment-" + string(rune('0'+commentN)) },
		),
	)
}
