// Package gateway implements the publish lifecycle offered to clients:
// opening a publish, writing items, committing, and requesting config deploys.
// Every state change and the queued message it triggers are written in one
// transaction.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edgepub/edgepub/cfg"
	"github.com/edgepub/edgepub/db"
	"github.com/edgepub/edgepub/encoding"
	"github.com/edgepub/edgepub/kvstore"
	"github.com/edgepub/edgepub/notify"
	"github.com/edgepub/edgepub/planner"
	"github.com/edgepub/edgepub/publish"
	"github.com/edgepub/edgepub/queue"
	"github.com/edgepub/edgepub/task"
	"github.com/edgepub/edgepub/telemetry"
)

// DeadlineFormat is the only accepted commit deadline layout
const DeadlineFormat = "2006-01-02T15:04:05Z"

// Service applies publish operations against the relational store
type Service struct {
	store    *db.Store
	kv       kvstore.Store
	locks    shardedLocks
	notifier notify.Notifier
	now      func() time.Time
}

// NewService creates a Service. kv is only read, by GetConfig.
func NewService(store *db.Store, kv kvstore.Store) *Service {
	return &Service{
		store: store,
		kv:    kv,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the service clock
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetNotifier announces messages once their transaction has committed
func (s *Service) SetNotifier(n notify.Notifier) {
	s.notifier = n
}

func (s *Service) signal(actor, messageID string) {
	if s.notifier != nil {
		s.notifier.Signal(actor, messageID)
	}
}

// CreatePublish opens a new PENDING publish in env
func (s *Service) CreatePublish(ctx context.Context, env string) (*publish.Publish, error) {
	if _, err := cfg.GetEnvironment(env); err != nil {
		return nil, err
	}

	p := &publish.Publish{
		ID:      uuid.NewString(),
		Env:     env,
		State:   publish.StatePending,
		Updated: s.now(),
	}
	if err := s.store.InsertPublish(ctx, p); err != nil {
		return nil, err
	}

	telemetry.PublishesTotal.With("created").Inc()
	log.Info().Str("publish_id", p.ID).Str("env", env).Msg("Created publish")
	return p, nil
}

// GetPublish returns a publish of env together with its items
func (s *Service) GetPublish(ctx context.Context, env, id string) (*publish.Publish, error) {
	if _, err := cfg.GetEnvironment(env); err != nil {
		return nil, err
	}

	p, err := s.store.GetPublish(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Env != env {
		return nil, publish.NotFoundf("No publish found for ID %s", id)
	}

	if p.Items, err = s.store.ListItems(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateItems adds items to a PENDING publish, replacing items with the same
// web_uri. The publish state is checked before the items are validated.
func (s *Service) UpdateItems(ctx context.Context, env, id string, items []publish.Item) error {
	if _, err := cfg.GetEnvironment(env); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	var valid []publish.Item
	err := s.store.WithTx(ctx, func(tx *db.Tx) error {
		p, err := lockPendingPublish(ctx, tx, env, id)
		if err != nil {
			return err
		}

		valid, err = publish.ValidateItems(items)
		if err != nil {
			var verr *publish.ValidationError
			if errors.As(err, &verr) {
				telemetry.ItemValidationFailuresTotal.Add(float64(len(verr.Messages)))
			}
			return err
		}
		return tx.PutItems(ctx, p.ID, valid)
	})
	if err != nil {
		return err
	}

	telemetry.ItemsWrittenTotal.Add(float64(len(valid)))
	log.Debug().Str("publish_id", id).Int("items", len(valid)).Msg("Updated publish items")
	return nil
}

// Commit resolves the links of a PENDING publish, moves it to COMMITTING and
// queues the deploy. deadline is optional; when empty the configured default
// applies.
func (s *Service) Commit(ctx context.Context, env, id, deadline string) (*task.Task, error) {
	start := time.Now()
	defer func() {
		telemetry.CommitDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	t, err := s.commit(ctx, env, id, deadline)
	telemetry.CommitRequestsTotal.With(commitResult(err)).Inc()
	return t, err
}

func (s *Service) commit(ctx context.Context, env, id, deadline string) (*task.Task, error) {
	if _, err := cfg.GetEnvironment(env); err != nil {
		return nil, err
	}

	now := s.now()
	dl, err := parseDeadline(deadline, now)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	var t *task.Task
	err = s.store.WithTx(ctx, func(tx *db.Tx) error {
		if _, err := lockPendingPublish(ctx, tx, env, id); err != nil {
			return err
		}

		items, err := tx.ListItems(ctx, id)
		if err != nil {
			return err
		}
		resolved, err := publish.ResolveLinks(items)
		if err != nil {
			return err
		}

		var links []publish.Item
		for i, item := range items {
			if item.IsLink() {
				links = append(links, resolved[i])
			}
		}
		if err := tx.PutItems(ctx, id, links); err != nil {
			return err
		}

		if err := tx.SetPublishState(ctx, id, publish.StateCommitting); err != nil {
			return err
		}

		t, err = task.NewTracker(tx).Create(ctx, id, &dl)
		if err != nil {
			return err
		}

		args := queue.CommitArgs{PublishID: id, Env: env, FromDate: now}
		_, err = queue.EnqueueAt(ctx, tx, queue.ActorCommit, t.ID, args, now, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.signal(queue.ActorCommit, t.ID)

	log.Info().
		Str("publish_id", id).
		Str("task_id", t.ID).
		Time("deadline", dl).
		Msg("Publish committing")
	return t, nil
}

// DeployConfig validates a configuration document and queues its deploy to env
func (s *Service) DeployConfig(ctx context.Context, env string, document []byte) (*task.Task, error) {
	if _, err := cfg.GetEnvironment(env); err != nil {
		return nil, err
	}
	if err := planner.ValidateDocument(document); err != nil {
		return nil, err
	}

	now := s.now()
	var t *task.Task
	err := s.store.WithTx(ctx, func(tx *db.Tx) error {
		var err error
		t, err = task.NewTracker(tx).Create(ctx, "", nil)
		if err != nil {
			return err
		}

		args := queue.DeployConfigArgs{Env: env, Config: json.RawMessage(document), FromDate: now}
		_, err = queue.EnqueueAt(ctx, tx, queue.ActorDeployConfig, t.ID, args, now, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.signal(queue.ActorDeployConfig, t.ID)

	log.Info().Str("task_id", t.ID).Str("env", env).Msg("Config deploy requested")
	return t, nil
}

// GetTask returns a task by id
func (s *Service) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return s.store.GetTask(ctx, id)
}

// GetConfig returns the newest config document deployed to env
func (s *Service) GetConfig(ctx context.Context, env string) (json.RawMessage, error) {
	e, err := cfg.GetEnvironment(env)
	if err != nil {
		return nil, err
	}

	rec, err := s.kv.Latest(ctx, e.ConfigTable, planner.RecordKey, s.now())
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, publish.NotFoundf("No config deployed to %s", env)
	}
	if err != nil {
		return nil, err
	}

	raw, err := encoding.Gunzip(rec.Value)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// lockPendingPublish locks publish id of env and checks it still accepts changes
func lockPendingPublish(ctx context.Context, tx *db.Tx, env, id string) (*publish.Publish, error) {
	p, err := tx.LockPublish(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Env != env {
		return nil, publish.NotFoundf("No publish found for ID %s", id)
	}
	if p.State != publish.StatePending {
		return nil, &publish.StateConflictError{Kind: "Publish", ID: id, State: string(p.State)}
	}
	return p, nil
}

func parseDeadline(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now.Add(cfg.DefaultDeadline()), nil
	}
	// time.Parse tolerates fractional seconds the layout does not name
	dl, err := time.Parse(DeadlineFormat, value)
	if err != nil || dl.Format(DeadlineFormat) != value {
		return time.Time{}, publish.Invalidf("Invalid deadline %s", value)
	}
	return dl.UTC(), nil
}

func commitResult(err error) string {
	var (
		conflict   *publish.StateConflictError
		invalid    *publish.ValidationError
		unresolved *publish.UnresolvedLinkError
	)
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, publish.ErrNotFound), errors.Is(err, cfg.ErrUnknownEnvironment):
		return "not_found"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &invalid), errors.As(err, &unresolved):
		return "invalid"
	}
	return "error"
}
