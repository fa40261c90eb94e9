package cdn

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgepub/edgepub/cfg"
	"github.com/edgepub/edgepub/planner"
	"github.com/edgepub/edgepub/telemetry"
	"github.com/edgepub/edgepub/webpath"
)

const (
	// Default number of purge requests sent to the sink at once
	DefaultBatchSize = 100
	// Default initial retry delay for failed sends
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of attempts before giving up on a batch
	DefaultMaxRetries = 10
)

// FlusherConfig configures a Flusher
type FlusherConfig struct {
	Sink            Sink          // Destination sink
	Filter          Filter        // Paths never flushed (optional)
	TopicPrefix     string        // Topic prefix (e.g., "edgepub.purge")
	BatchSize       int           // Requests per sink call
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Maximum retry attempts
	Now             func() time.Time
}

// Flusher turns web paths into purge requests on a sink
type Flusher struct {
	config FlusherConfig
}

// NewFlusher creates a Flusher
func NewFlusher(config FlusherConfig) (*Flusher, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Flusher{config: config}, nil
}

// NewFlusherFromConfig builds the sink, filter and flusher described by the
// CDN configuration.
func NewFlusherFromConfig(config cfg.CDNConfiguration) (*Flusher, error) {
	filter, err := NewGlobFilter(config.FlushExclude)
	if err != nil {
		return nil, err
	}

	snk, err := NewSink(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	f, err := NewFlusher(FlusherConfig{
		Sink:         snk,
		Filter:       filter,
		TopicPrefix:  config.TopicPrefix,
		BatchSize:    config.BatchSize,
		RetryInitial: time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:     time.Duration(config.RetryMaxMS) * time.Millisecond,
		MaxRetries:   config.MaxRetries,
	})
	if err != nil {
		snk.Close()
		return nil, err
	}

	log.Info().
		Str("sink", config.Sink).
		Int("exclude_patterns", len(config.FlushExclude)).
		Msg("CDN flusher initialized")

	return f, nil
}

// Close releases the sink
func (f *Flusher) Close() error {
	return f.config.Sink.Close()
}

// Flush publishes a purge request for every path, plus the paths the given
// aliases map them to, in environment env.
func (f *Flusher) Flush(ctx context.Context, paths []string, env string, aliases []planner.Alias) error {
	environment, err := cfg.GetEnvironment(env)
	if err != nil {
		return err
	}

	expanded := ExpandAliases(paths, aliases)
	topic := f.buildTopic(env)
	now := f.config.Now().UTC()

	reqs := make([]PurgeRequest, 0, len(expanded))
	for _, path := range expanded {
		if f.config.Filter != nil && f.config.Filter.Excluded(path) {
			log.Debug().Str("env", env).Str("path", path).Msg("Path excluded from flush")
			continue
		}

		req := PurgeRequest{
			Env:         env,
			Path:        path,
			KeyID:       environment.CDNKeyID,
			RequestedAt: now,
		}
		if environment.CDNURL != "" {
			req.URL = strings.TrimRight(environment.CDNURL, "/") + path
		}
		reqs = append(reqs, req)
	}

	flushed := 0
	for batch := range slices.Chunk(reqs, f.config.BatchSize) {
		if err := f.sendWithRetry(ctx, topic, batch); err != nil {
			telemetry.FlushFailuresTotal.Inc()
			return err
		}
		telemetry.FlushPathsTotal.Add(float64(len(batch)))
		flushed += len(batch)
	}

	log.Info().
		Str("env", env).
		Int("requested", len(paths)).
		Int("flushed", flushed).
		Msg("Flushed CDN cache")

	return nil
}

// ExpandAliases returns paths together with every path reachable through one
// alias in either direction, deduplicated and sorted.
func ExpandAliases(paths []string, aliases []planner.Alias) []string {
	set := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		path = webpath.Normalize(path)
		if path == "" {
			continue
		}
		set[path] = struct{}{}

		for _, alias := range aliases {
			if planner.Excluded(path, alias.ExcludePaths) {
				continue
			}
			if out, ok := webpath.Rebase(path, alias.Src, alias.Dest); ok {
				set[out] = struct{}{}
			}
			if out, ok := webpath.Rebase(path, alias.Dest, alias.Src); ok {
				set[out] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(set))
	for path := range set {
		out = append(out, path)
	}
	slices.Sort(out)
	return out
}

// buildTopic builds the topic name for an environment
func (f *Flusher) buildTopic(env string) string {
	if f.config.TopicPrefix == "" {
		return env
	}
	return fmt.Sprintf("%s.%s", f.config.TopicPrefix, env)
}

// sendWithRetry sends one batch with exponential backoff retry
// Returns error if max retries exhausted or ctx is done
func (f *Flusher) sendWithRetry(ctx context.Context, topic string, batch []PurgeRequest) error {
	delay := f.config.RetryInitial
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flush cancelled: %w", err)
		}

		err := f.config.Sink.Send(ctx, topic, batch)
		if err == nil {
			return nil
		}

		attempts++

		if attempts >= f.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", f.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("topic", topic).
			Str("first_path", batch[0].Path).
			Int("batch", len(batch)).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to send purge requests, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("flush cancelled during retry: %w", ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * f.config.RetryMultiplier)
		if delay > f.config.RetryMax {
			delay = f.config.RetryMax
		}
	}
}
