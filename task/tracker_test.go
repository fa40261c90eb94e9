package task

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/edgepub/edgepub/publish"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]*Task)}
}

func (m *memStore) InsertTask(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *memStore) GetTask(ctx context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, publish.NotFoundf("No task found for ID %s", id)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) TransitionTask(ctx context.Context, id string, from, to State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.State != from {
		return false, nil
	}
	t.State = to
	return true, nil
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	original := log.Logger
	log.Logger = zerolog.New(buf)
	t.Cleanup(func() { log.Logger = original })
	return buf
}

func TestTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := NewTracker(store)

	created, err := tr.Create(ctx, "publish-1", nil)
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, created.State)
	assert.Equal(t, "publish-1", created.PublishID)

	stored, err := store.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, stored.State)

	ok, err := tr.Begin(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.Finish(ctx, created.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, _ = store.GetTask(ctx, created.ID)
	assert.Equal(t, StateComplete, stored.State)
}

func TestTracker_FinishFailed(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := NewTracker(store)

	created, _ := tr.Create(ctx, "", nil)
	tr.Begin(ctx, created.ID)

	ok, err := tr.Finish(ctx, created.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, _ := store.GetTask(ctx, created.ID)
	assert.Equal(t, StateFailed, stored.State)
}

func TestTracker_UnexpectedStateIsSkipped(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		initial State
		act     func(*Tracker, string) (bool, error)
	}{
		{"begin complete", StateComplete, func(tr *Tracker, id string) (bool, error) { return tr.Begin(ctx, id) }},
		{"begin in progress", StateInProgress, func(tr *Tracker, id string) (bool, error) { return tr.Begin(ctx, id) }},
		{"finish not started", StateNotStarted, func(tr *Tracker, id string) (bool, error) { return tr.Finish(ctx, id, true) }},
		{"finish failed", StateFailed, func(tr *Tracker, id string) (bool, error) { return tr.Finish(ctx, id, true) }},
		{"fail complete", StateComplete, func(tr *Tracker, id string) (bool, error) { return tr.Fail(ctx, id) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := captureLogs(t)
			store := newMemStore()
			id := "8d8a4692-c89b-4b57-840f-b3f0166148d2"
			store.InsertTask(ctx, &Task{ID: id, State: tt.initial})

			ok, err := tt.act(NewTracker(store), id)
			require.NoError(t, err)
			assert.False(t, ok)

			stored, _ := store.GetTask(ctx, id)
			assert.Equal(t, tt.initial, stored.State)
			assert.Contains(t, logs.String(), fmt.Sprintf("Task %s in unexpected state, '%s'", id, tt.initial))
			assert.Contains(t, logs.String(), `"level":"warn"`)
		})
	}
}

func TestTracker_MissingTask(t *testing.T) {
	logs := captureLogs(t)

	ok, err := NewTracker(newMemStore()).Begin(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "Task missing not found")
}

func TestTracker_Fail(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := NewTracker(store)

	created, _ := tr.Create(ctx, "", nil)
	ok, err := tr.Fail(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, _ := store.GetTask(ctx, created.ID)
	assert.Equal(t, StateFailed, stored.State)
}

func TestTask_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&Task{}).Expired(now))
	assert.True(t, (&Task{Deadline: &past}).Expired(now))
	assert.False(t, (&Task{Deadline: &future}).Expired(now))
	assert.Equal(t, map[string]string{"self": "/task/abc"}, (&Task{ID: "abc"}).Links())
}
