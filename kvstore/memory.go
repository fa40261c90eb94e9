package kvstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// BatchCall records one BatchWrite received by a MemoryStore
type BatchCall struct {
	Table   string
	Records []Record
}

// MemoryStore is an in-memory Store with injectable failures
type MemoryStore struct {
	// WriteErr, when set, fails every BatchWrite without applying anything
	WriteErr error
	// Unprocessed holds back the last N records of each BatchWrite
	Unprocessed int

	mu     sync.Mutex
	calls  []BatchCall
	tables map[string]map[string][]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[string][]Record)}
}

func (m *MemoryStore) BatchWrite(ctx context.Context, table string, records []Record) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, BatchCall{Table: table, Records: append([]Record(nil), records...)})

	if m.WriteErr != nil {
		return nil, m.WriteErr
	}

	apply := records
	var unprocessed []Record
	if len(apply) > MaxBatchItems {
		apply, unprocessed = records[:MaxBatchItems], records[MaxBatchItems:]
	}
	if m.Unprocessed > 0 {
		hold := min(m.Unprocessed, len(apply))
		unprocessed = append(append([]Record(nil), apply[len(apply)-hold:]...), unprocessed...)
		apply = apply[:len(apply)-hold]
	}

	keys := m.tables[table]
	if keys == nil {
		keys = make(map[string][]Record)
		m.tables[table] = keys
	}
	for _, rec := range apply {
		versions := keys[rec.Key]
		i := sort.Search(len(versions), func(i int) bool { return !versions[i].FromDate.Before(rec.FromDate) })
		if i < len(versions) && versions[i].FromDate.Equal(rec.FromDate) {
			versions[i] = rec
		} else {
			versions = append(versions, Record{})
			copy(versions[i+1:], versions[i:])
			versions[i] = rec
		}
		keys[rec.Key] = versions
	}

	return unprocessed, nil
}

func (m *MemoryStore) Latest(ctx context.Context, table, key string, asOf time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.tables[table][key]
	for i := len(versions) - 1; i >= 0; i-- {
		if !versions[i].FromDate.After(asOf) {
			return versions[i], nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, table, key)
}

func (m *MemoryStore) Close() error {
	return nil
}

// Calls returns every BatchWrite received so far
func (m *MemoryStore) Calls() []BatchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BatchCall(nil), m.calls...)
}
