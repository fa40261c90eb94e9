// Package deploy holds the worker actors that move committed content and
// configuration out to the versioned KV store and invalidate stale CDN paths.
//
// Every actor is guarded by its task's state: a delivery whose task is not in
// the expected state is logged and skipped, so duplicate deliveries are
// harmless. Dependency failures are recorded on the task, never retried here.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/edgepub/edgepub/cfg"
	"github.com/edgepub/edgepub/db"
	"github.com/edgepub/edgepub/encoding"
	"github.com/edgepub/edgepub/kvstore"
	"github.com/edgepub/edgepub/planner"
	"github.com/edgepub/edgepub/queue"
	"github.com/edgepub/edgepub/task"
)

// DefaultConfigCacheSize is the number of decoded config versions kept
const DefaultConfigCacheSize = 64

// Flusher invalidates CDN cache entries for paths of an environment
type Flusher interface {
	Flush(ctx context.Context, paths []string, env string, aliases []planner.Alias) error
}

// EngineConfig wires the engine to its collaborators
type EngineConfig struct {
	Store           *db.Store
	KV              kvstore.Store
	Flusher         Flusher
	ListingFlush    bool
	CacheTTL        time.Duration // Delay before a deployed config is flushed
	Retry           kvstore.RetryPolicy
	ConfigCacheSize int
	Now             func() time.Time
}

// Engine runs the deploy actors
type Engine struct {
	store        *db.Store
	kv           kvstore.Store
	flusher      Flusher
	tracker      *task.Tracker
	configs      *lru.Cache[string, *planner.Config]
	listingFlush bool
	cacheTTL     time.Duration
	retry        kvstore.RetryPolicy
	now          func() time.Time
}

// NewEngine creates an Engine
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("relational store is required")
	}
	if config.KV == nil {
		return nil, fmt.Errorf("kv store is required")
	}
	if config.Flusher == nil {
		return nil, fmt.Errorf("flusher is required")
	}
	if config.ConfigCacheSize <= 0 {
		config.ConfigCacheSize = DefaultConfigCacheSize
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}

	configs, err := lru.New[string, *planner.Config](config.ConfigCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create config cache: %w", err)
	}

	return &Engine{
		store:        config.Store,
		kv:           config.KV,
		flusher:      config.Flusher,
		tracker:      task.NewTracker(config.Store),
		configs:      configs,
		listingFlush: config.ListingFlush,
		cacheTTL:     config.CacheTTL,
		retry:        config.Retry,
		now:          config.Now,
	}, nil
}

// NewEngineFromConfig creates an Engine using the global configuration
func NewEngineFromConfig(store *db.Store, kv kvstore.Store, flusher Flusher) (*Engine, error) {
	return NewEngine(EngineConfig{
		Store:        store,
		KV:           kv,
		Flusher:      flusher,
		ListingFlush: cfg.Config.CDN.ListingFlush,
		CacheTTL:     cfg.CacheTTL(),
		Retry: kvstore.RetryPolicy{
			Initial:     time.Duration(cfg.Config.KV.RetryInitialMS) * time.Millisecond,
			Max:         time.Duration(cfg.Config.KV.RetryMaxMS) * time.Millisecond,
			MaxAttempts: cfg.Config.KV.WriteAttempts,
		},
		ConfigCacheSize: cfg.Config.KV.ConfigCacheSize,
	})
}

// Handlers maps every actor name to its handler
func (e *Engine) Handlers() map[string]queue.Handler {
	return map[string]queue.Handler{
		queue.ActorCommit:                   e.Commit,
		queue.ActorDeployConfig:             e.DeployConfig,
		queue.ActorCompleteDeployConfigTask: e.CompleteDeployConfigTask,
	}
}

// loadConfig returns the newest config of table with a from_date not after
// asOf, or nil when none was ever deployed
func (e *Engine) loadConfig(ctx context.Context, table string, asOf time.Time) (*planner.Config, error) {
	rec, err := e.kv.Latest(ctx, table, planner.RecordKey, asOf)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", table, err)
	}

	cacheKey := configCacheKey(table, rec.FromDate)
	if c, ok := e.configs.Get(cacheKey); ok {
		return c, nil
	}

	raw, err := encoding.Gunzip(rec.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config from %s: %w", table, err)
	}
	c, err := planner.ParseConfig(raw)
	if err != nil {
		return nil, err
	}

	e.configs.Add(cacheKey, c)
	return c, nil
}

func configCacheKey(table string, fromDate time.Time) string {
	return table + "@" + strconv.FormatInt(fromDate.UnixNano(), 10)
}

// formatTime renders timestamps in log messages
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
