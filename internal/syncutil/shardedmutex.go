// Package syncutil provides shared locking primitives.
//
// The balance cache for a (tenant, cook) pair is the most contended
// resource in the payout engine: credits, debt settlement, clearance
// sweeps and withdrawal reservations all mutate it. Every such mutation
// runs under the wallet lock for that pair, obtained from a ShardedMutex.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// ShardedMutex provides a fixed-size pool of mutexes keyed by string.
// Unlike sync.Map-based per-key locks, this uses bounded memory regardless
// of how many keys are seen, at the cost of occasional false sharing between
// keys that hash to the same shard.
type ShardedMutex struct {
	shards [256]sync.Mutex
}

// WalletKey builds the lock key for a (tenant, cook) wallet. The debt
// queue and the balance cache for a pair share this key so a credit and
// a debt settlement can never interleave.
func WalletKey(tenantID, cookID string) string {
	return tenantID + "/" + cookID
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%256]
}
