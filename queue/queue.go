// Package queue is a durable delayed message queue kept in the relational
// store. Messages are inserted in the caller's transaction, so enqueueing
// commits or rolls back together with the state change that caused it.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edgepub/edgepub/db"
	"github.com/edgepub/edgepub/encoding"
	"github.com/edgepub/edgepub/telemetry"
)

// Actor names
const (
	ActorCommit                   = "commit"
	ActorDeployConfig             = "deploy_config"
	ActorCompleteDeployConfigTask = "complete_deploy_config_task"
)

// Inserter persists messages; *db.Store and *db.Tx both satisfy it
type Inserter interface {
	InsertMessage(ctx context.Context, m db.Message) error
}

// Delivery is one attempt at handling a message
type Delivery struct {
	ID         string
	Actor      string
	ETA        time.Time
	EnqueuedAt time.Time
	Attempts   int
	body       []byte
}

// NewDelivery builds a Delivery from a stored message
func NewDelivery(m db.Message) Delivery {
	return Delivery{
		ID:         m.ID,
		Actor:      m.Actor,
		ETA:        m.ETA,
		EnqueuedAt: m.EnqueuedAt,
		Attempts:   m.Attempts,
		body:       m.Body,
	}
}

// Decode unpacks the message keyword arguments into v
func (d Delivery) Decode(v interface{}) error {
	if err := encoding.Unmarshal(d.body, v); err != nil {
		return fmt.Errorf("failed to decode %s message %s: %w", d.Actor, d.ID, err)
	}
	return nil
}

// EnqueueAt stores a message for actor carrying args, enqueued at now and
// delivered no earlier than now+delay. An empty id gets a fresh UUID.
func EnqueueAt(ctx context.Context, ins Inserter, actor, id string, args interface{}, now time.Time, delay time.Duration) (db.Message, error) {
	if id == "" {
		id = uuid.NewString()
	}

	body, err := encoding.Marshal(args)
	if err != nil {
		return db.Message{}, fmt.Errorf("failed to encode %s message: %w", actor, err)
	}

	m := db.Message{
		ID:         id,
		Actor:      actor,
		Body:       body,
		ETA:        now.Add(delay),
		EnqueuedAt: now,
	}
	if err := ins.InsertMessage(ctx, m); err != nil {
		return db.Message{}, err
	}

	telemetry.MessagesEnqueuedTotal.With(actor).Inc()
	return m, nil
}
