package boardcache

import (
	"bytes"

	"github.com/bytedance/sonic"

	"taskboard/task-api/domain"
)

// Snapshot is the three column view of the board. Every column is always
// present, possibly empty.
type Snapshot struct {
	Todo       []domain.Task `json:"todo"`
	InProgress []domain.Task `json:"inProgress"`
	Done       []domain.Task `json:"done"`
}

// EmptySnapshot returns a snapshot with three empty columns.
func EmptySnapshot() Snapshot {
	return Snapshot{Todo: []domain.Task{}, InProgress: []domain.Task{}, Done: []domain.Task{}}
}

// Column returns the tasks of status st in display order.
func (s Snapshot) Column(st domain.Status) []domain.Task {
	if col := s.column(st); col != nil {
		return *col
	}
	return nil
}

func (s *Snapshot) column(st domain.Status) *[]domain.Task {
	switch st {
	case domain.StatusTodo:
		return &s.Todo
	case domain.StatusInProgress:
		return &s.InProgress
	case domain.StatusDone:
		return &s.Done
	}
	return nil
}

// Find locates a task by id.
func (s Snapshot) Find(id string) (domain.Status, int, bool) {
	for _, st := range domain.Columns {
		for i, t := range s.Column(st) {
			if t.ID == id {
				return st, i, true
			}
		}
	}
	return "", -1, false
}

// Len counts the tasks on the board.
func (s Snapshot) Len() int {
	return len(s.Todo) + len(s.InProgress) + len(s.Done)
}

// Clone returns a deep copy with no nil columns.
func (s Snapshot) Clone() Snapshot {
	out := EmptySnapshot()
	for _, st := range domain.Columns {
		dst := out.column(st)
		for _, t := range s.Column(st) {
			*dst = append(*dst, t.Clone())
		}
	}
	return out
}

// Equal reports whether s and o hold the same tasks in the same order with the
// same field values.
func (s Snapshot) Equal(o Snapshot) bool {
	a, errA := sonic.ConfigStd.Marshal(s.Clone())
	b, errB := sonic.ConfigStd.Marshal(o.Clone())
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Group normalizes tasks and buckets them by status, preserving input order.
// Later duplicates of an id are dropped.
func Group(tasks []domain.Task) Snapshot {
	out := EmptySnapshot()
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		t = normalize(t)
		col := out.column(t.Status)
		*col = append(*col, t)
	}
	return out
}

func normalize(t domain.Task) domain.Task {
	t = t.WithoutActivities()
	if t.Subtasks == nil {
		t.Subtasks = []domain.Subtask{}
	}
	if !t.Status.Valid() {
		t.Status = domain.StatusTodo
	}
	if t.Priority == "" {
		t.Priority = domain.DefaultPriority
	}
	return t
}
