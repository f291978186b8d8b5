package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// Field is an optional patch value. Set distinguishes "absent" from a zero or null value.
type Field[T any] struct {
	Value T
	Set   bool
}

// Some returns a Field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Set: true}
}

// Patch is a partial task update. Only fields with Set are compared and applied.
type Patch struct {
	Title       Field[string]
	Description Field[string]
	Status      Field[Status]
	Priority    Field[string]
	Assignee    Field[*string]
	DueDate     Field[*time.Time]
	Subtasks    Field[[]Subtask]
	Files       Field[int]
}

// Empty reports whether no field is present.
func (p Patch) Empty() bool {
	return !p.Title.Set && !p.Description.Set && !p.Status.Set && !p.Priority.Set &&
		!p.Assignee.Set && !p.DueDate.Set && !p.Subtasks.Set && !p.Files.Set
}

// ParsePatch builds a Patch from a decoded JSON object. Keys that are not updatable are rejected.
func ParsePatch(fields map[string]json.RawMessage) (Patch, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var p Patch
	for _, key := range keys {
		raw := fields[key]
		var err error
		switch key {
		case "title":
			err = decodeField(raw, &p.Title)
		case "description":
			err = decodeField(raw, &p.Description)
		case "status":
			err = decodeField(raw, &p.Status)
		case "priority":
			err = decodeField(raw, &p.Priority)
		case "assignee":
			err = decodeField(raw, &p.Assignee)
		case "dueDate":
			err = decodeField(raw, &p.DueDate)
		case "subtasks":
			err = decodeField(raw, &p.Subtasks)
		case "files":
			err = decodeField(raw, &p.Files)
		default:
			return Patch{}, validationErrorf("field %q cannot be updated", key)
		}
		if err != nil {
			return Patch{}, validationErrorf("field %q: %v", key, err)
		}
	}
	return p, nil
}

func decodeField[T any](raw json.RawMessage, f *Field[T]) error {
	var v T
	if err := codec.Unmarshal(raw, &v); err != nil {
		return err
	}
	*f = Some(v)
	return nil
}

func (p Patch) validate() error {
	if p.Title.Set && isBlank(p.Title.Value) {
		return validationErrorf("title required")
	}
	if p.Status.Set && !p.Status.Value.Valid() {
		return validationErrorf("unknown status %q", p.Status.Value)
	}
	if p.Files.Set && p.Files.Value < 0 {
		return validationErrorf("files must not be negative")
	}
	return nil
}
