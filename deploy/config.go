package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/edgepub/edgepub/cfg"
	"github.com/edgepub/edgepub/encoding"
	"github.com/edgepub/edgepub/kvstore"
	"github.com/edgepub/edgepub/planner"
	"github.com/edgepub/edgepub/publish"
	"github.com/edgepub/edgepub/queue"
	"github.com/edgepub/edgepub/task"
	"github.com/edgepub/edgepub/telemetry"
)

// DeployConfig writes a new config version to the environment's config table
// and schedules its completion once edge caches have had time to expire.
func (e *Engine) DeployConfig(ctx context.Context, d queue.Delivery) error {
	taskID := d.ID

	var args queue.DeployConfigArgs
	if err := d.Decode(&args); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("Dropping undecodable deploy_config message")
		return nil
	}

	started, err := e.tracker.Begin(ctx, taskID)
	if err != nil {
		return err
	}
	if !started {
		return nil
	}

	log.Info().
		Str("task_id", taskID).
		Str("env", args.Env).
		Msgf("Task %s writing config from %s", taskID, formatTime(args.FromDate))

	msgID, err := e.deployConfig(ctx, taskID, args)
	if err != nil {
		log.Error().
			Err(err).
			Str("task_id", taskID).
			Msgf("Task %s encountered an error", taskID)
		if _, ferr := e.tracker.Finish(ctx, taskID, false); ferr != nil {
			return ferr
		}
		return nil
	}

	log.Info().
		Str("task_id", taskID).
		Str("message_id", msgID).
		Msgf("Sent task %s for completion via message %s", taskID, msgID)
	return nil
}

func (e *Engine) deployConfig(ctx context.Context, taskID string, args queue.DeployConfigArgs) (string, error) {
	env, err := cfg.GetEnvironment(args.Env)
	if err != nil {
		return "", err
	}

	next, err := planner.ParseConfig(args.Config)
	if err != nil {
		return "", err
	}

	// The version being replaced is the newest one strictly older than ours
	prev, err := e.loadConfig(ctx, env.ConfigTable, args.FromDate.Add(-1))
	if err != nil {
		return "", err
	}

	payload, err := encoding.Gzip(args.Config)
	if err != nil {
		return "", err
	}

	record := kvstore.Record{Key: planner.RecordKey, FromDate: args.FromDate, Value: payload}
	unprocessed, err := e.kv.BatchWrite(ctx, env.ConfigTable, []kvstore.Record{record})
	if err != nil {
		return "", fmt.Errorf("failed to write config to %s: %w", env.ConfigTable, err)
	}
	if len(unprocessed) > 0 {
		telemetry.KVUnprocessedTotal.Add(float64(len(unprocessed)))
		return "", fmt.Errorf("config write to %s left %d unprocessed records", env.ConfigTable, len(unprocessed))
	}
	telemetry.KVRecordsWrittenTotal.With("config").Inc()
	e.configs.Add(configCacheKey(env.ConfigTable, args.FromDate), next)

	flushPaths, err := e.planFlush(ctx, env.Name, prev, next)
	if err != nil {
		return "", err
	}

	completion := queue.CompleteDeployConfigArgs{
		TaskID:     taskID,
		Env:        env.Name,
		FlushPaths: flushPaths,
	}
	msg, err := queue.EnqueueAt(ctx, e.store, queue.ActorCompleteDeployConfigTask, "", completion, e.now(), e.cacheTTL)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// planFlush finds the paths made stale by replacing prev with next
func (e *Engine) planFlush(ctx context.Context, env string, prev, next *planner.Config) ([]string, error) {
	var published []string
	for _, alias := range planner.ChangedAliases(prev, next) {
		paths, err := e.store.ListPublishedPaths(ctx, env, alias.Src)
		if err != nil {
			return nil, err
		}
		published = append(published, paths...)
	}

	return planner.Plan(planner.Input{
		Prev:         prev,
		Next:         next,
		Published:    published,
		ListingFlush: e.listingFlush,
	}), nil
}

// CompleteDeployConfigTask flushes the paths computed at deploy time and
// completes the deploy task.
func (e *Engine) CompleteDeployConfigTask(ctx context.Context, d queue.Delivery) error {
	var args queue.CompleteDeployConfigArgs
	if err := d.Decode(&args); err != nil {
		log.Error().Err(err).Str("message_id", d.ID).Msg("Dropping undecodable completion message")
		return nil
	}

	t, err := e.store.GetTask(ctx, args.TaskID)
	if errors.Is(err, publish.ErrNotFound) {
		log.Warn().Str("task_id", args.TaskID).Msgf("Task %s not found", args.TaskID)
		return nil
	}
	if err != nil {
		return err
	}
	if t.State != task.StateInProgress {
		log.Warn().
			Str("task_id", t.ID).
			Str("state", string(t.State)).
			Msgf("Task %s in unexpected state, '%s'", t.ID, t.State)
		return nil
	}

	ok := true
	if len(args.FlushPaths) > 0 {
		if err := e.flusher.Flush(ctx, args.FlushPaths, args.Env, nil); err != nil {
			log.Error().
				Err(err).
				Str("task_id", t.ID).
				Msgf("Task %s encountered an error", t.ID)
			ok = false
		}
	}

	if _, err := e.tracker.Finish(ctx, t.ID, ok); err != nil {
		return err
	}
	return nil
}
