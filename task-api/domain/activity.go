package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action names the kind of mutation an activity entry records.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionComment Action = "comment"
	// ActionDelete is part of the vocabulary but never persisted; deletes remove the log too.
	ActionDelete Action = "delete"
)

// ActivityEntry is one immutable record of a mutation on a task.
// Seq orders entries of the same task when timestamps collide.
type ActivityEntry struct {
	Seq       int64           `json:"seq"`
	Actor     *string         `json:"actor"`
	Action    Action          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Clone returns a deep copy of a.
func (a ActivityEntry) Clone() ActivityEntry {
	out := a
	if a.Actor != nil {
		actor := *a.Actor
		out.Actor = &actor
	}
	out.Payload = append(json.RawMessage(nil), a.Payload...)
	return out
}

// CreatePayload is recorded with every create entry.
type CreatePayload struct {
	Title  string `json:"title"`
	Status Status `json:"status"`
}

// CommentPayload is recorded with every comment entry.
type CommentPayload struct {
	Comment Comment `json:"comment"`
}

// Recorder appends activity entries to a task's log.
type Recorder struct {
	now func() time.Time
}

// NewRecorder returns a Recorder stamping entries with the given clock.
func NewRecorder(now func() time.Time) Recorder {
	if now == nil {
		now = time.Now
	}
	return Recorder{now: now}
}

// Append encodes payload and appends a new entry to t. The task is left untouched when encoding fails.
func (r Recorder) Append(t *Task, actor string, action Action, payload any) (ActivityEntry, error) {
	data, err := canonicalJSON(payload)
	if err != nil {
		return ActivityEntry{}, fmt.Errorf("encode %s activity: %w", action, err)
	}
	entry := ActivityEntry{
		Seq:       t.LastSeq() + 1,
		Actor:     optionalString(actor),
		Action:    action,
		Payload:   data,
		CreatedAt: normalizeTime(r.now()),
	}
	t.Activities = append(t.Activities, entry)
	return entry, nil
}
