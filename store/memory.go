package store

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const memoryShards = 16

// Memory is a bounded, thread-safe in-memory store with LRU eviction.
// Keys are spread over independently locked shards, so recency is only
// approximate across the whole store: a put on a full shard evicts that
// shard's least recently used entry, which is not necessarily the
// globally least recently used one. The per-shard capacities sum to the
// configured capacity, so the total entry count never exceeds it.
//
// Entries live only in process memory and are lost on restart.
type Memory struct {
	shards []*lru.Cache[string, []byte]
}

// NewMemory creates a memory store holding at most capacity entries.
func NewMemory(capacity int) (*Memory, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("store: capacity must be positive, got %d", capacity)
	}
	n := memoryShards
	if capacity < n {
		n = capacity
	}
	m := &Memory{shards: make([]*lru.Cache[string, []byte], n)}
	for i := range m.shards {
		size := capacity / n
		if i < capacity%n {
			size++
		}
		shard, err := lru.New[string, []byte](size)
		if err != nil {
			return nil, err
		}
		m.shards[i] = shard
	}
	return m, nil
}

func (m *Memory) shard(key string) *lru.Cache[string, []byte] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Get returns the value stored for key, if any.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok := m.shard(key).Get(key)
	return value, ok, nil
}

// Put stores or overwrites the value for key, evicting the shard's least
// recently used entry when the shard is full. Eviction happens before
// Put returns.
func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.shard(key).Add(key, value)
	return nil
}

// Delete removes the entry for key if present.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.shard(key).Remove(key)
	return nil
}

// Clear removes all entries.
func (m *Memory) Clear(ctx context.Context) error {
	for _, shard := range m.shards {
		shard.Purge()
	}
	return nil
}

// Len returns the current number of live entries.
func (m *Memory) Len() int {
	var n int
	for _, shard := range m.shards {
		n += shard.Len()
	}
	return n
}
