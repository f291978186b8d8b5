package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// codec is the std-compatible sonic configuration; map keys are sorted so encodings are canonical.
var codec = sonic.ConfigStd

// FieldChange is the before and after canonical encoding of one changed field.
type FieldChange struct {
	From json.RawMessage `json:"from"`
	To   json.RawMessage `json:"to"`
}

// Changes maps a field name to its change. It is the payload of an update entry.
type Changes map[string]FieldChange

// applyPatch compares every present field of p against t by canonical encoding and applies the ones that differ.
func applyPatch(t *Task, p Patch) (Changes, error) {
	changes := Changes{}
	if p.Title.Set {
		if err := changes.record("title", t.Title, p.Title.Value); err != nil {
			return nil, err
		}
		t.Title = p.Title.Value
	}
	if p.Description.Set {
		if err := changes.record("description", t.Description, p.Description.Value); err != nil {
			return nil, err
		}
		t.Description = p.Description.Value
	}
	if p.Status.Set {
		if err := changes.record("status", t.Status, p.Status.Value); err != nil {
			return nil, err
		}
		t.Status = p.Status.Value
	}
	if p.Priority.Set {
		if err := changes.record("priority", t.Priority, p.Priority.Value); err != nil {
			return nil, err
		}
		t.Priority = p.Priority.Value
	}
	if p.Assignee.Set {
		next := p.Assignee.Value
		if next != nil && *next == "" {
			next = nil
		}
		if err := changes.record("assignee", t.Assignee, next); err != nil {
			return nil, err
		}
		t.Assignee = next
	}
	if p.DueDate.Set {
		next := normalizeDue(p.DueDate.Value)
		if err := changes.record("dueDate", normalizeDue(t.DueDate), next); err != nil {
			return nil, err
		}
		t.DueDate = next
	}
	if p.Subtasks.Set {
		next := normalizeSubtasks(p.Subtasks.Value)
		if err := changes.record("subtasks", normalizeSubtasks(t.Subtasks), next); err != nil {
			return nil, err
		}
		t.Subtasks = next
	}
	if p.Files.Set {
		if err := changes.record("files", t.Files, p.Files.Value); err != nil {
			return nil, err
		}
		t.Files = p.Files.Value
	}
	return changes, nil
}

func (c Changes) record(key string, from, to any) error {
	before, err := canonicalJSON(from)
	if err != nil {
		return err
	}
	after, err := canonicalJSON(to)
	if err != nil {
		return err
	}
	if !bytes.Equal(before, after) {
		c[key] = FieldChange{From: before, To: after}
	}
	return nil
}

func canonicalJSON(v any) ([]byte, error) {
	return codec.Marshal(v)
}

func normalizeDue(d *time.Time) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	n := normalizeTime(*d)
	return &n
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
