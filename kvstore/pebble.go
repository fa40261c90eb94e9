package kvstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

// Key layout: /kv/{table}\x00{key}\x00{8-byte big-endian from_date nanos}
const prefixKV = "/kv/"

// Pebble configuration constants
const (
	memTableSize                = 64 << 20 // 64MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 256 << 20 // 256MB
	maxConcurrentCompactions    = 3
)

// PebbleStore provides a Pebble-backed versioned store
type PebbleStore struct {
	db     *pebble.DB
	path   string
	closed atomic.Bool
}

var _ Store = (*PebbleStore)(nil)

// NewPebbleStore creates or opens a Pebble-backed store in dir
func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
		DisableWAL:                  false,
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store at %s: %w", dir, err)
	}

	log.Info().Str("path", dir).Msg("Opened KV store")

	return &PebbleStore{db: db, path: dir}, nil
}

// BatchWrite applies up to MaxBatchItems records atomically
func (s *PebbleStore) BatchWrite(ctx context.Context, table string, records []Record) ([]Record, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("kv store is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	apply := records
	var unprocessed []Record
	if len(apply) > MaxBatchItems {
		apply, unprocessed = records[:MaxBatchItems], records[MaxBatchItems:]
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, rec := range apply {
		key, err := formatKey(table, rec.Key, rec.FromDate)
		if err != nil {
			return nil, err
		}
		if err := batch.Set(key, rec.Value, pebble.Sync); err != nil {
			return nil, fmt.Errorf("failed to write record %s: %w", rec.Key, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	return unprocessed, nil
}

// Latest returns the newest version of key not after asOf
func (s *PebbleStore) Latest(ctx context.Context, table, key string, asOf time.Time) (Record, error) {
	if s.closed.Load() {
		return Record{}, fmt.Errorf("kv store is closed")
	}

	prefix := keyPrefix(table, key)
	upper, err := formatKey(table, key, asOf.Add(time.Nanosecond))
	if err != nil {
		return Record{}, err
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upper,
	})
	if err != nil {
		return Record{}, err
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, table, key)
	}

	val, err := iter.ValueAndErr()
	if err != nil {
		return Record{}, err
	}

	stamp := iter.Key()[len(prefix):]
	if len(stamp) != 8 {
		return Record{}, fmt.Errorf("corrupted version for %s/%s: invalid length %d", table, key, len(stamp))
	}

	value := make([]byte, len(val))
	copy(value, val)

	return Record{
		Key:      key,
		FromDate: time.Unix(0, int64(binary.BigEndian.Uint64(stamp))).UTC(),
		Value:    value,
	}, nil
}

// Close closes the Pebble database
func (s *PebbleStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("kv store already closed")
	}
	return s.db.Close()
}

func keyPrefix(table, key string) []byte {
	buf := make([]byte, 0, len(prefixKV)+len(table)+len(key)+2)
	buf = append(buf, prefixKV...)
	buf = append(buf, table...)
	buf = append(buf, 0)
	buf = append(buf, key...)
	buf = append(buf, 0)
	return buf
}

func formatKey(table, key string, fromDate time.Time) ([]byte, error) {
	nanos := fromDate.UnixNano()
	if nanos < 0 {
		return nil, fmt.Errorf("from_date %s predates the epoch", fromDate)
	}
	buf := keyPrefix(table, key)
	return binary.BigEndian.AppendUint64(buf, uint64(nanos)), nil
}
