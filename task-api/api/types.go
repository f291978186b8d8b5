package api

import (
	"context"

	"taskboard/task-api/domain"
)

// Deduper reserves idempotency keys so a retried create returns the original task.
type Deduper interface {
	// Reserve claims key for userID. When the key is already taken it returns the
	// task id recorded for it, or "" while the first request is still in flight.
	Reserve(ctx context.Context, userID, key string) (taskID string, reserved bool, err error)
	// Complete records the task created under a reserved key.
	Complete(ctx context.Context, userID, key, taskID string) error
	// Release drops a reservation after a failed create so the caller may retry.
	Release(ctx context.Context, userID, key string) error
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type commentRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
