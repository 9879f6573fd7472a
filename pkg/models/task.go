package models

import "time"

// TaskStatus is the lifecycle state of a durable task.
type TaskStatus string

// Task status constants. Completed, failed, and cancelled are terminal.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task is a durable unit of asynchronous agent work. Tasks reference
// itineraries by id and survive process restarts.
type Task struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"` // agent task type, e.g. "edit"
	ItineraryID    string         `json:"itinerary_id"`
	Owner          string         `json:"owner,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	Status         TaskStatus     `json:"status"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	NextAttemptAt  time.Time      `json:"next_attempt_at,omitempty"`
	StartedAt      time.Time      `json:"started_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Terminal reports whether the task is in a terminal state.
func (t *Task) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}
