package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Disk is a content-addressed persistent store. Each key is hashed and
// the value lives in a file named by the hash under the root directory,
// fanned out over two-character subdirectories. No index file is needed
// since the path is derived deterministically from the key.
//
// Writes go to a temporary file and are renamed into place, so a crash
// mid-write never leaves a partial entry visible to Get. Concurrent
// writers to the same key, from any process, resolve last-rename-wins.
type Disk struct {
	root string
}

// NewDisk creates a disk store rooted at the given directory, creating
// it if needed.
func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &Error{Op: "create", Err: err}
	}
	return &Disk{root: root}, nil
}

// path returns the content address for a key.
func (d *Disk) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(d.root, name[:2], name[2:])
}

// Get returns the value stored for key. A missing file is a miss, not
// an error.
func (d *Disk) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &Error{Op: "get", Key: key, Err: err}
	}
	return value, true, nil
}

// Put durably stores or overwrites the value for key.
func (d *Disk) Put(ctx context.Context, key string, value []byte) error {
	dest := d.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	tmp, err := os.CreateTemp(d.root, "put-*.tmp")
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	if _, err := tmp.Write(value); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return &Error{Op: "put", Key: key, Err: err}
	}
	log.Trace().Str("key", key).Str("path", dest).Msg("Disk cache write")
	return nil
}

// Delete removes the entry for key. A file that is already gone is not
// an error.
func (d *Disk) Delete(ctx context.Context, key string) error {
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Clear removes all entries under the root directory. The root itself
// is kept.
func (d *Disk) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(d.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &Error{Op: "clear", Err: err}
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(d.root, entry.Name())); err != nil {
			return &Error{Op: "clear", Err: err}
		}
	}
	return nil
}
