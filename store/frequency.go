package store

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// Frequency is a bounded, thread-safe in-memory store whose admission
// and eviction are informed by access frequency (TinyLFU). A burst of
// one-time lookups cannot displace entries that are read often, which
// plain recency-based eviction does not guarantee (scan resistance).
//
// The external contract is the same as Memory's; the two differ only in
// which entries survive memory pressure. Under pressure the admission
// policy may decline to keep a newly put entry at all, which shows up as
// an immediate eviction.
type Frequency struct {
	cache *ristretto.Cache[string, []byte]
}

// NewFrequency creates a frequency-aware store holding at most capacity
// entries.
func NewFrequency(capacity int64) (*Frequency, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("store: capacity must be positive, got %d", capacity)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Frequency{cache: cache}, nil
}

// Get returns the value stored for key, if any.
func (f *Frequency) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok := f.cache.Get(key)
	return value, ok, nil
}

// Put stores or overwrites the value for key. The write buffer is
// drained before returning so a subsequent Get observes the entry and
// the capacity bound holds once Put returns.
func (f *Frequency) Put(ctx context.Context, key string, value []byte) error {
	f.cache.Set(key, value, 1)
	f.cache.Wait()
	return nil
}

// Delete removes the entry for key if present.
func (f *Frequency) Delete(ctx context.Context, key string) error {
	f.cache.Del(key)
	f.cache.Wait()
	return nil
}

// Clear removes all entries.
func (f *Frequency) Clear(ctx context.Context) error {
	f.cache.Clear()
	return nil
}

// Close releases the cache's background resources. The store must not
// be used afterwards.
func (f *Frequency) Close() {
	f.cache.Close()
}
