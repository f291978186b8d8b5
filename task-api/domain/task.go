package domain

import (
	"strings"
	"time"
)

// Status is the board column a task belongs to.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inProgress"
	StatusDone       Status = "done"
)

// Columns lists the board columns in display order.
var Columns = [...]Status{StatusTodo, StatusInProgress, StatusDone}

// Valid reports whether s names one of the board columns.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// DefaultPriority is assigned to tasks created without a priority label.
const DefaultPriority = "Medium"

// Subtask is a checklist item nested in a task.
type Subtask struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

// Task is a single board item. Activities are only populated for single-task reads.
type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      Status          `json:"status"`
	Priority    string          `json:"priority"`
	Creator     string          `json:"creator,omitempty"`
	Assignee    *string         `json:"assignee"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	Subtasks    []Subtask       `json:"subtasks"`
	Comments    int             `json:"comments"`
	Files       int             `json:"files"`
	Activities  []ActivityEntry `json:"activities,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	out := t
	if t.Assignee != nil {
		a := *t.Assignee
		out.Assignee = &a
	}
	if t.DueDate != nil {
		d := *t.DueDate
		out.DueDate = &d
	}
	out.Subtasks = append([]Subtask{}, t.Subtasks...)
	if t.Activities != nil {
		out.Activities = make([]ActivityEntry, len(t.Activities))
		for i, a := range t.Activities {
			out.Activities[i] = a.Clone()
		}
	}
	return out
}

// WithoutActivities returns the list projection of t.
func (t Task) WithoutActivities() Task {
	out := t.Clone()
	out.Activities = nil
	return out
}

// LastSeq returns the sequence number of the newest activity entry, or zero.
func (t Task) LastSeq() int64 {
	if len(t.Activities) == 0 {
		return 0
	}
	return t.Activities[len(t.Activities)-1].Seq
}

// NewTask carries the caller supplied fields of a task creation.
type NewTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    string     `json:"priority"`
	Assignee    *string    `json:"assignee"`
	DueDate     *time.Time `json:"dueDate"`
	Subtasks    []Subtask  `json:"subtasks"`
}

func (n NewTask) validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return validationErrorf("title required")
	}
	if n.Status != "" && !n.Status.Valid() {
		return validationErrorf("unknown status %q", n.Status)
	}
	return nil
}

// Comment is the record returned for a posted comment.
type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  *string   `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is an identity known to the task service. Credentials are not stored here.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func normalizeSubtasks(in []Subtask) []Subtask {
	out := make([]Subtask, len(in))
	for i, st := range in {
		st.CreatedAt = normalizeTime(st.CreatedAt)
		out[i] = st
	}
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
