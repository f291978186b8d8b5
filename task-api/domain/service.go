package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
)

// TaskStorage persists tasks together with their activity logs.
// Every write must store the task fields and the appended entries atomically.
type TaskStorage interface {
	// InsertTask stores a new task and the entries already present in task.Activities.
	InsertTask(ctx context.Context, task Task) error
	// GetTask returns the task with its full activity log, or nil when it does not exist.
	GetTask(ctx context.Context, id string) (*Task, error)
	// SaveTask replaces the task fields and appends the given entries. ErrNotFound when the task is gone.
	SaveTask(ctx context.Context, task Task, appended []ActivityEntry) error
	// DeleteTask removes the task and its log, reporting whether it existed.
	DeleteTask(ctx context.Context, id string) (bool, error)
	// ListTasks returns tasks without activity logs, restricted to creator == owner when owner is set.
	ListTasks(ctx context.Context, owner string) ([]Task, error)
}

// UserDirectory resolves user references.
type UserDirectory interface {
	// GetUser returns the user or nil when it does not exist.
	GetUser(ctx context.Context, id string) (*User, error)
	PutUser(ctx context.Context, u User) error
}

// TaskService implements the task lifecycle on top of a TaskStorage.
type TaskService struct {
	st           TaskStorage
	recorder     Recorder
	now          func() time.Time
	newID        func() string
	newCommentID func() string
}

// Option customises a TaskService.
type Option func(*TaskService)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *TaskService) { s.now = now }
}

// WithIDGenerators overrides task and comment id generation.
func WithIDGenerators(task, comment func() string) Option {
	return func(s *TaskService) {
		if task != nil {
			s.newID = task
		}
		if comment != nil {
			s.newCommentID = comment
		}
	}
}

func NewTaskService(st TaskStorage, opts ...Option) *TaskService {
	s := &TaskService{
		st:           st,
		now:          time.Now,
		newID:        uuid.NewString,
		newCommentID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recorder = NewRecorder(s.now)
	return s
}

// Create validates and stores a new task with its create entry. actor is required.
func (s *TaskService) Create(ctx context.Context, in NewTask, actor string) (Task, error) {
	if actor == "" {
		return Task{}, ErrUnauthenticated
	}
	if err := in.validate(); err != nil {
		return Task{}, err
	}
	now := normalizeTime(s.now())
	t := Task{
		ID:          s.newID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		Creator:     actor,
		Assignee:    in.Assignee,
		DueDate:     normalizeDue(in.DueDate),
		Subtasks:    normalizeSubtasks(in.Subtasks),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == "" {
		t.Priority = DefaultPriority
	}
	if t.Assignee != nil && *t.Assignee == "" {
		t.Assignee = nil
	}
	if _, err := s.recorder.Append(&t, actor, ActionCreate, CreatePayload{Title: t.Title, Status: t.Status}); err != nil {
		return Task{}, err
	}
	if err := s.st.InsertTask(ctx, t); err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	log.WithFields(log.Fields{"task": t.ID, "actor": actor}).Debug("task created")
	return t, nil
}

// Get returns the task with its activity log.
func (s *TaskService) Get(ctx context.Context, id string) (Task, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return Task{}, err
	}
	return *t, nil
}

// Update applies the present fields of p. One update entry is appended iff any field changed.
func (s *TaskService) Update(ctx context.Context, id string, p Patch, actor string) (Task, error) {
	cur, err := s.load(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if err := p.validate(); err != nil {
		return Task{}, err
	}
	next := cur.Clone()
	changes, err := applyPatch(&next, p)
	if err != nil {
		return Task{}, fmt.Errorf("diff task %s: %w", id, err)
	}
	var appended []ActivityEntry
	if len(changes) > 0 {
		entry, err := s.recorder.Append(&next, actor, ActionUpdate, changes)
		if err != nil {
			return Task{}, err
		}
		appended = append(appended, entry)
	}
	next.UpdatedAt = normalizeTime(s.now())
	if err := s.st.SaveTask(ctx, next, appended); err != nil {
		return Task{}, fmt.Errorf("save task %s: %w", id, err)
	}
	if len(changes) > 0 {
		log.WithFields(log.Fields{"task": id, "actor": actor, "fields": len(changes)}).Debug("task updated")
	}
	return next, nil
}

// AddComment records a comment entry and bumps the comment count.
func (s *TaskService) AddComment(ctx context.Context, id, text, actor string) (Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Comment{}, validationErrorf("comment text required")
	}
	cur, err := s.load(ctx, id)
	if err != nil {
		return Comment{}, err
	}
	now := normalizeTime(s.now())
	c := Comment{
		ID:        s.newCommentID(),
		Text:      text,
		AuthorID:  optionalString(actor),
		CreatedAt: now,
	}
	next := cur.Clone()
	entry, err := s.recorder.Append(&next, actor, ActionComment, CommentPayload{Comment: c})
	if err != nil {
		return Comment{}, err
	}
	next.Comments++
	next.UpdatedAt = now
	if err := s.st.SaveTask(ctx, next, []ActivityEntry{entry}); err != nil {
		return Comment{}, fmt.Errorf("save task %s: %w", id, err)
	}
	return c, nil
}

// Delete removes the task and its log permanently.
func (s *TaskService) Delete(ctx context.Context, id string) error {
	ok, err := s.st.DeleteTask(ctx, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if !ok {
		return notFoundf("task %s", id)
	}
	log.WithField("task", id).Debug("task deleted")
	return nil
}

// List returns every task, or only those created by owner, without activity logs.
func (s *TaskService) List(ctx context.Context, owner string) ([]Task, error) {
	tasks, err := s.st.ListTasks(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.WithoutActivities())
	}
	return out, nil
}

func (s *TaskService) load(ctx context.Context, id string) (*Task, error) {
	if id == "" {
		return nil, notFoundf("task id required")
	}
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	if t == nil {
		return nil, notFoundf("task %s", id)
	}
	return t, nil
}
