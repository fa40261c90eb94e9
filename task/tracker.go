package task

import (
	"context"
	"errors"
	"time"

	"github.com/edgepub/edgepub/publish"
	"github.com/edgepub/edgepub/telemetry"
	"github.com/rs/zerolog/log"
)

// Tracker applies task transitions. A task found in a state other than the
// one a transition expects is left untouched and a warning is logged; the
// stored state is authoritative.
type Tracker struct {
	store Store
}

// NewTracker creates a Tracker over the given store
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// Create persists a new NOT_STARTED task
func (tr *Tracker) Create(ctx context.Context, publishID string, deadline *time.Time) (*Task, error) {
	t := New(publishID, deadline)
	if err := tr.store.InsertTask(ctx, t); err != nil {
		return nil, err
	}
	telemetry.TaskTransitionsTotal.With(string(StateNotStarted)).Inc()
	return t, nil
}

// Begin moves a task from NOT_STARTED to IN_PROGRESS
func (tr *Tracker) Begin(ctx context.Context, id string) (bool, error) {
	return tr.transition(ctx, id, StateNotStarted, StateInProgress)
}

// Finish moves a task from IN_PROGRESS to COMPLETE or FAILED
func (tr *Tracker) Finish(ctx context.Context, id string, ok bool) (bool, error) {
	to := StateComplete
	if !ok {
		to = StateFailed
	}
	return tr.transition(ctx, id, StateInProgress, to)
}

// Fail marks a task FAILED from any non-terminal state
func (tr *Tracker) Fail(ctx context.Context, id string) (bool, error) {
	for _, from := range []State{StateInProgress, StateNotStarted} {
		done, err := tr.store.TransitionTask(ctx, id, from, StateFailed)
		if err != nil {
			return false, err
		}
		if done {
			telemetry.TaskTransitionsTotal.With(string(StateFailed)).Inc()
			return true, nil
		}
	}
	return tr.warnUnexpected(ctx, id)
}

func (tr *Tracker) transition(ctx context.Context, id string, from, to State) (bool, error) {
	done, err := tr.store.TransitionTask(ctx, id, from, to)
	if err != nil {
		return false, err
	}
	if done {
		telemetry.TaskTransitionsTotal.With(string(to)).Inc()
		return true, nil
	}
	return tr.warnUnexpected(ctx, id)
}

func (tr *Tracker) warnUnexpected(ctx context.Context, id string) (bool, error) {
	t, err := tr.store.GetTask(ctx, id)
	if errors.Is(err, publish.ErrNotFound) {
		log.Warn().Str("task_id", id).Msgf("Task %s not found", id)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log.Warn().
		Str("task_id", id).
		Str("state", string(t.State)).
		Msgf("Task %s in unexpected state, '%s'", id, t.State)
	return false, nil
}
