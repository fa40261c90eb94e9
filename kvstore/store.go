// Package kvstore is the versioned key-value store that edge readers consult.
// Every record is addressed by (table, key, from_date); readers pick the newest
// version not later than the time they are interested in.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// MaxBatchItems is the most records a single BatchWrite applies. Records
// beyond it are returned as unprocessed.
const MaxBatchItems = 25

// ErrNotFound is returned when no version of a key exists
var ErrNotFound = errors.New("kv record not found")

// Record is one version of a key
type Record struct {
	Key      string
	FromDate time.Time
	Value    []byte
}

// Store is the capability the deploy engine writes through
type Store interface {
	// BatchWrite puts records into table. Records the store did not apply are
	// returned; callers must treat a non-empty result as incomplete.
	BatchWrite(ctx context.Context, table string, records []Record) ([]Record, error)

	// Latest returns the newest version of key whose from_date is not after asOf.
	Latest(ctx context.Context, table, key string, asOf time.Time) (Record, error)

	Close() error
}
