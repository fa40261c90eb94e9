package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/edgepub/edgepub/cfg"
	"github.com/edgepub/edgepub/db"
	"github.com/edgepub/edgepub/encoding"
	"github.com/edgepub/edgepub/kvstore"
	"github.com/edgepub/edgepub/publish"
	"github.com/edgepub/edgepub/queue"
	"github.com/edgepub/edgepub/task"
	"github.com/edgepub/edgepub/telemetry"
)

// ItemValue is the KV payload of an item record
type ItemValue struct {
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
}

var errTaskMoved = errors.New("task left IN_PROGRESS during commit")

// Commit writes the items of a COMMITTING publish to the environment's item
// table, records them as published and completes the publish.
func (e *Engine) Commit(ctx context.Context, d queue.Delivery) error {
	taskID := d.ID

	var args queue.CommitArgs
	if err := d.Decode(&args); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("Dropping undecodable commit message")
		return nil
	}

	started, err := e.tracker.Begin(ctx, taskID)
	if err != nil {
		return err
	}
	if !started {
		return nil
	}

	logger := log.With().
		Str("task_id", taskID).
		Str("publish_id", args.PublishID).
		Str("env", args.Env).
		Logger()

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Expired(e.now()) {
		logger.Error().Msgf("Task %s has exceeded its deadline", taskID)
		e.failCommit(ctx, taskID, args.PublishID)
		return nil
	}

	logger.Info().Msgf("Task %s committing publish %s", taskID, args.PublishID)

	replaced, err := e.commit(ctx, taskID, args)
	if err != nil {
		if errors.Is(err, errTaskMoved) {
			logger.Warn().Msg("Task state changed during commit, leaving publish as is")
			return nil
		}
		logger.Error().Err(err).Msgf("Task %s encountered an error", taskID)
		e.failCommit(ctx, taskID, args.PublishID)
		return nil
	}

	telemetry.PublishesTotal.With("committed").Inc()
	logger.Info().Int("replaced", len(replaced)).Msg("Publish committed")

	if len(replaced) > 0 {
		e.flushReplaced(ctx, args.Env, replaced)
	}
	return nil
}

// commit returns the web_uris which were already published before this commit
func (e *Engine) commit(ctx context.Context, taskID string, args queue.CommitArgs) ([]string, error) {
	env, err := cfg.GetEnvironment(args.Env)
	if err != nil {
		return nil, err
	}

	items, err := e.store.ListItems(ctx, args.PublishID)
	if err != nil {
		return nil, err
	}

	records := make([]kvstore.Record, 0, len(items))
	uris := make([]string, 0, len(items))
	for _, item := range items {
		if item.ObjectKey == "" {
			return nil, &publish.UnresolvedLinkError{WebURI: item.WebURI, LinkTo: item.LinkTo}
		}
		value, err := encoding.Marshal(ItemValue{ObjectKey: item.ObjectKey, ContentType: item.ContentType})
		if err != nil {
			return nil, fmt.Errorf("failed to encode item %s: %w", item.WebURI, err)
		}
		records = append(records, kvstore.Record{Key: item.WebURI, FromDate: args.FromDate, Value: value})
		uris = append(uris, item.WebURI)
	}

	if err := kvstore.WriteBatches(ctx, e.kv, env.Table, records, e.retry); err != nil {
		return nil, err
	}
	telemetry.KVRecordsWrittenTotal.With("item").Add(float64(len(records)))

	replaced, err := e.store.FilterPublishedPaths(ctx, env.Name, uris)
	if err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.UpsertPublishedPaths(ctx, env.Name, uris, e.now()); err != nil {
			return err
		}
		if err := tx.SetPublishState(ctx, args.PublishID, publish.StateCommitted); err != nil {
			return err
		}
		finished, err := task.NewTracker(tx).Finish(ctx, taskID, true)
		if err != nil {
			return err
		}
		if !finished {
			return errTaskMoved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

// failCommit marks both the publish and its task FAILED
func (e *Engine) failCommit(ctx context.Context, taskID, publishID string) {
	if err := e.store.SetPublishState(ctx, publishID, publish.StateFailed); err != nil {
		log.Error().Err(err).Str("publish_id", publishID).Msg("Failed to mark publish FAILED")
	} else {
		telemetry.PublishesTotal.With("failed").Inc()
	}
	if _, err := e.tracker.Fail(ctx, taskID); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("Failed to mark task FAILED")
	}
}

// flushReplaced invalidates paths whose previous content may still be cached.
// The publish is already committed, so failures are only logged.
func (e *Engine) flushReplaced(ctx context.Context, envName string, paths []string) {
	env, err := cfg.GetEnvironment(envName)
	if err != nil {
		log.Warn().Err(err).Msg("Skipping flush of replaced paths")
		return
	}

	current, err := e.loadConfig(ctx, env.ConfigTable, e.now())
	if err != nil {
		log.Warn().Err(err).Str("env", envName).Msg("Flushing replaced paths without aliases")
	}

	if err := e.flusher.Flush(ctx, paths, envName, current.AllAliases()); err != nil {
		log.Warn().Err(err).Str("env", envName).Int("paths", len(paths)).Msg("Failed to flush replaced paths")
	}
}
