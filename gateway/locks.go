package gateway

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 64

// shardedLocks serializes operations on the same publish within this process.
// Distinct publishes usually land on distinct shards.
type shardedLocks struct {
	shards [lockShards]sync.Mutex
}

// Lock acquires the shard owning key and returns its release func
func (l *shardedLocks) Lock(key string) func() {
	mu := &l.shards[xxhash.Sum64String(key)%lockShards]
	mu.Lock()
	return mu.Unlock
}
