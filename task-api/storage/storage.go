package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskboard/task-api/domain"
)

const (
	taskRowKey        = "task"
	activityRowPrefix = "act-"
	userPartition     = "user"
	// Entity group transactions are limited to 100 operations.
	maxBatch = 100
)

// Storage keeps tasks in Azure Table Storage. Each task owns a partition holding
// the task row and one row per activity entry, so a write and its entries commit
// in a single entity group transaction.
type Storage struct {
	taskTable *aztables.Client
	userTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable: svc.NewClient(tasksTable),
		userTable: svc.NewClient(usersTable),
	}, nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entityKeys
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Priority    string `json:"Priority"`
	Creator     string `json:"Creator"`
	Assignee    string `json:"Assignee,omitempty"`
	DueDate     string `json:"DueDate,omitempty"`
	Subtasks    string `json:"Subtasks"`
	Comments    int    `json:"Comments"`
	Files       int    `json:"Files"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

type activityEntity struct {
	entityKeys
	Seq       int64  `json:"Seq"`
	Actor     string `json:"Actor,omitempty"`
	Action    string `json:"Action"`
	Payload   string `json:"Payload"`
	CreatedAt string `json:"CreatedAt"`
}

type userEntity struct {
	entityKeys
	Email     string `json:"Email"`
	Name      string `json:"Name"`
	AvatarURL string `json:"AvatarURL,omitempty"`
	CreatedAt string `json:"CreatedAt"`
	UpdatedAt string `json:"UpdatedAt"`
}

func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	row, err := encodeTask(t)
	if err != nil {
		return err
	}
	actions := []aztables.TransactionAction{{ActionType: aztables.TransactionTypeAdd, Entity: row}}
	for _, a := range t.Activities {
		ent, err := encodeActivity(t.ID, a)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: ent})
	}
	return s.submit(ctx, actions)
}

func (s *Storage) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	filter := "PartitionKey eq " + quote(id)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var task *domain.Task
	var acts []domain.ActivityEntry
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapTableErr(err)
		}
		for _, e := range resp.Entities {
			var keys entityKeys
			if err := sonic.Unmarshal(e, &keys); err != nil {
				return nil, err
			}
			switch {
			case keys.RowKey == taskRowKey:
				t, err := decodeTask(e)
				if err != nil {
					return nil, err
				}
				task = &t
			case strings.HasPrefix(keys.RowKey, activityRowPrefix):
				a, err := decodeActivity(e)
				if err != nil {
					return nil, err
				}
				acts = append(acts, a)
			}
		}
	}
	if task == nil {
		return nil, nil
	}
	sort.Slice(acts, func(i, j int) bool { return acts[i].Seq < acts[j].Seq })
	task.Activities = acts
	return task, nil
}

func (s *Storage) SaveTask(ctx context.Context, t domain.Task, appended []domain.ActivityEntry) error {
	row, err := encodeTask(t)
	if err != nil {
		return err
	}
	etag := azcore.ETagAny
	actions := []aztables.TransactionAction{{ActionType: aztables.TransactionTypeUpdateReplace, Entity: row, IfMatch: &etag}}
	for _, a := range appended {
		ent, err := encodeActivity(t.ID, a)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: ent})
	}
	return editConflict(t.ID, s.submit(ctx, actions))
}

func (s *Storage) DeleteTask(ctx context.Context, id string) (bool, error) {
	filter := "PartitionKey eq " + quote(id)
	sel := "PartitionKey,RowKey"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})
	var rows [][]byte
	found := false
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return false, mapTableErr(err)
		}
		for _, e := range resp.Entities {
			var keys entityKeys
			if err := sonic.Unmarshal(e, &keys); err != nil {
				return false, err
			}
			data, err := sonic.Marshal(keys)
			if err != nil {
				return false, err
			}
			if keys.RowKey == taskRowKey {
				found = true
				// The task row goes first so readers never see a task with a partial log.
				rows = append([][]byte{data}, rows...)
				continue
			}
			rows = append(rows, data)
		}
	}
	if !found {
		return false, nil
	}
	for start := 0; start < len(rows); start += maxBatch {
		end := start + maxBatch
		if end > len(rows) {
			end = len(rows)
		}
		actions := make([]aztables.TransactionAction, 0, end-start)
		for _, r := range rows[start:end] {
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: r})
		}
		if err := s.submit(ctx, actions); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Storage) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := "RowKey eq " + quote(taskRowKey)
	if owner != "" {
		filter += " and Creator eq " + quote(owner)
	}
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapTableErr(err)
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sortByCreation(tasks)
	return tasks, nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (*domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, userPartition, id, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	u, err := decodeUser(resp.Value)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Storage) PutUser(ctx context.Context, u domain.User) error {
	data, err := sonic.Marshal(userEntity{
		entityKeys: entityKeys{PartitionKey: userPartition, RowKey: u.ID},
		Email:      u.Email,
		Name:       u.Name,
		AvatarURL:  u.AvatarURL,
		CreatedAt:  formatTime(u.CreatedAt),
		UpdatedAt:  formatTime(u.UpdatedAt),
	})
	if err != nil {
		return err
	}
	_, err = s.userTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (s *Storage) submit(ctx context.Context, actions []aztables.TransactionAction) error {
	if _, err := s.taskTable.SubmitTransaction(ctx, actions, nil); err != nil {
		return mapTableErr(err)
	}
	return nil
}

func mapTableErr(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		case http.StatusConflict, http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
	}
	return err
}

func encodeTask(t domain.Task) ([]byte, error) {
	subtasks, err := sonic.Marshal(nonNilSubtasks(t.Subtasks))
	if err != nil {
		return nil, err
	}
	ent := taskEntity{
		entityKeys:  entityKeys{PartitionKey: t.ID, RowKey: taskRowKey},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    t.Priority,
		Creator:     t.Creator,
		Subtasks:    string(subtasks),
		Comments:    t.Comments,
		Files:       t.Files,
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
	if t.Assignee != nil {
		ent.Assignee = *t.Assignee
	}
	if t.DueDate != nil {
		ent.DueDate = formatTime(*t.DueDate)
	}
	return sonic.Marshal(ent)
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:          ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Priority:    ent.Priority,
		Creator:     ent.Creator,
		Subtasks:    []domain.Subtask{},
		Comments:    ent.Comments,
		Files:       ent.Files,
	}
	if ent.Subtasks != "" {
		if err := sonic.UnmarshalString(ent.Subtasks, &t.Subtasks); err != nil {
			return domain.Task{}, fmt.Errorf("decode subtasks of %s: %w", ent.PartitionKey, err)
		}
		t.Subtasks = nonNilSubtasks(t.Subtasks)
	}
	if ent.Assignee != "" {
		a := ent.Assignee
		t.Assignee = &a
	}
	var err error
	if ent.DueDate != "" {
		due, err := parseTime(ent.DueDate)
		if err != nil {
			return domain.Task{}, err
		}
		t.DueDate = &due
	}
	if t.CreatedAt, err = parseTime(ent.CreatedAt); err != nil {
		return domain.Task{}, err
	}
	if t.UpdatedAt, err = parseTime(ent.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func encodeActivity(taskID string, a domain.ActivityEntry) ([]byte, error) {
	ent := activityEntity{
		entityKeys: entityKeys{PartitionKey: taskID, RowKey: activityRowKey(a.Seq)},
		Seq:        a.Seq,
		Action:     string(a.Action),
		Payload:    string(a.Payload),
		CreatedAt:  formatTime(a.CreatedAt),
	}
	if a.Actor != nil {
		ent.Actor = *a.Actor
	}
	return sonic.Marshal(ent)
}

func decodeActivity(data []byte) (domain.ActivityEntry, error) {
	var ent activityEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.ActivityEntry{}, err
	}
	created, err := parseTime(ent.CreatedAt)
	if err != nil {
		return domain.ActivityEntry{}, err
	}
	a := domain.ActivityEntry{
		Seq:       ent.Seq,
		Action:    domain.Action(ent.Action),
		Payload:   []byte(ent.Payload),
		CreatedAt: created,
	}
	if ent.Actor != "" {
		actor := ent.Actor
		a.Actor = &actor
	}
	return a, nil
}

func decodeUser(data []byte) (domain.User, error) {
	var ent userEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	u := domain.User{ID: ent.RowKey, Email: ent.Email, Name: ent.Name, AvatarURL: ent.AvatarURL}
	var err error
	if ent.CreatedAt != "" {
		if u.CreatedAt, err = parseTime(ent.CreatedAt); err != nil {
			return domain.User{}, err
		}
	}
	if ent.UpdatedAt != "" {
		if u.UpdatedAt, err = parseTime(ent.UpdatedAt); err != nil {
			return domain.User{}, err
		}
	}
	return u, nil
}

// activityRowKey pads the sequence so row order matches log order.
func activityRowKey(seq int64) string {
	return fmt.Sprintf("%s%019d", activityRowPrefix, seq)
}

func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t.UTC(), nil
}

func nonNilSubtasks(in []domain.Subtask) []domain.Subtask {
	if in == nil {
		return []domain.Subtask{}
	}
	return in
}

func sortByCreation(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
