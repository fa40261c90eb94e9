// Package task tracks asynchronous units of work and their lifecycle.
package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Task
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateInProgress State = "IN_PROGRESS"
	StateComplete   State = "COMPLETE"
	StateFailed     State = "FAILED"
)

// Task is a trackable handle for one queued unit of work. Its ID is the ID of
// the queued message which performs the work.
type Task struct {
	ID        string     `json:"id"`
	PublishID string     `json:"publish_id,omitempty"`
	State     State      `json:"state"`
	Updated   time.Time  `json:"updated"`
	Deadline  *time.Time `json:"deadline,omitempty"`
}

// Links returns the URLs clients use to poll this task
func (t *Task) Links() map[string]string {
	return map[string]string{"self": "/task/" + t.ID}
}

// Expired reports whether the task deadline has passed at now
func (t *Task) Expired(now time.Time) bool {
	return t.Deadline != nil && now.After(*t.Deadline)
}

// Store persists tasks. Transition must apply only when the stored state
// equals from, reporting whether it did.
type Store interface {
	InsertTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	TransitionTask(ctx context.Context, id string, from, to State) (bool, error)
}

// New returns a NOT_STARTED task with a fresh ID
func New(publishID string, deadline *time.Time) *Task {
	return &Task{
		ID:        uuid.NewString(),
		PublishID: publishID,
		State:     StateNotStarted,
		Updated:   time.Now().UTC(),
		Deadline:  deadline,
	}
}
