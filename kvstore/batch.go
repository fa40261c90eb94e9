package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// Default initial retry delay for unprocessed records
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 5 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Default number of BatchWrite calls per chunk before giving up
	DefaultMaxAttempts = 10
)

// RetryPolicy controls how WriteBatches retries unprocessed records
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Initial <= 0 {
		p.Initial = DefaultRetryInitial
	}
	if p.Max <= 0 {
		p.Max = DefaultRetryMax
	}
	if p.Multiplier <= 0 {
		p.Multiplier = DefaultRetryMultiplier
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// WriteBatches writes records in chunks of MaxBatchItems, resubmitting
// unprocessed records with exponential backoff. A BatchWrite error aborts
// immediately.
func WriteBatches(ctx context.Context, store Store, table string, records []Record, policy RetryPolicy) error {
	policy = policy.withDefaults()

	for start := 0; start < len(records); start += MaxBatchItems {
		end := min(start+MaxBatchItems, len(records))
		if err := writeChunk(ctx, store, table, records[start:end], policy); err != nil {
			return err
		}
	}
	return nil
}

func writeChunk(ctx context.Context, store Store, table string, pending []Record, policy RetryPolicy) error {
	delay := policy.Initial
	attempts := 0

	for {
		unprocessed, err := store.BatchWrite(ctx, table, pending)
		if err != nil {
			return fmt.Errorf("batch write to %s failed: %w", table, err)
		}
		if len(unprocessed) == 0 {
			return nil
		}

		attempts++
		if attempts >= policy.MaxAttempts {
			return fmt.Errorf("exhausted max attempts (%d) writing to %s: %d records unprocessed",
				policy.MaxAttempts, table, len(unprocessed))
		}

		log.Warn().
			Str("table", table).
			Int("unprocessed", len(unprocessed)).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("KV store left records unprocessed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		pending = unprocessed
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.Max {
			delay = policy.Max
		}
	}
}
