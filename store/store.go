// Package store defines the storage capability behind the HTTP cache
// and its concrete backends. Values are serialized response envelopes;
// the store never interprets them.
package store

import "context"

// Store is the abstract key/value contract shared by all backends.
// Nothing above this interface knows which backend is in use.
//
// Implementations must be safe for concurrent use without external
// locking: each single call is atomic and non-corrupting, though two
// racing Puts for the same key may resolve in either order.
type Store interface {
	// Get returns the stored value for key. A missing key is reported
	// as (nil, false, nil), never as an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores or overwrites the value for key.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes the entry if present. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes all entries.
	Clear(ctx context.Context) error
}

// Error reports an I/O failure on a backend operation. The cache
// surfaces it to callers as-is and never retries.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return "store: " + e.Op + ": " + e.Err.Error()
	}
	return "store: " + e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
