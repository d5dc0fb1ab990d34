package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDiskPutGet(t *testing.T) {
	ctx := context.Background()
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Put(ctx, "GET:https://example.com/page", []byte("value")); err != nil {
		t.Fatal(err)
	}
	value, ok, err := d.Get(ctx, "GET:https://example.com/page")
	if err != nil || !ok {
		t.Fatalf("Get returned ok=%v err=%v", ok, err)
	}
	if string(value) != "value" {
		t.Fatalf("Value is %s", value)
	}
}

func TestDiskMissIsNotAnError(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	value, ok, err := d.Get(context.Background(), "absent")
	if err != nil {
		t.Fatal(err)
	}
	if ok || value != nil {
		t.Fatalf("Got %q for absent key", value)
	}
}

func TestDiskPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d, err := NewDisk(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Put(ctx, "key", []byte("durable")); err != nil {
		t.Fatal(err)
	}
	reopened, err := NewDisk(dir)
	if err != nil {
		t.Fatal(err)
	}
	value, ok, err := reopened.Get(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("Get returned ok=%v err=%v", ok, err)
	}
	if string(value) != "durable" {
		t.Fatalf("Value is %s", value)
	}
}

func TestDiskOverwrite(t *testing.T) {
	ctx := context.Background()
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d.Put(ctx, "key", []byte("old"))
	if err := d.Put(ctx, "key", []byte("new")); err != nil {
		t.Fatal(err)
	}
	value, _, _ := d.Get(ctx, "key")
	if string(value) != "new" {
		t.Fatalf("Value is %s", value)
	}
}

func TestDiskLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d, err := NewDisk(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if err := d.Put(ctx, fmt.Sprintf("key-%d", i), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("Leftover temp file %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDiskDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d, err := NewDisk(dir)
	if err != nil {
		t.Fatal(err)
	}
	d.Put(ctx, "a", []byte("1"))
	d.Put(ctx, "b", []byte("2"))
	if err := d.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := d.Delete(ctx, "a"); err != nil {
		t.Fatal("Deleting an absent key should not error:", err)
	}
	if _, ok, _ := d.Get(ctx, "a"); ok {
		t.Fatal("Deleted key still present")
	}
	if err := d.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := d.Get(ctx, "b"); ok {
		t.Fatal("Key still present after Clear")
	}
	// the root directory itself survives
	if _, err := os.Stat(dir); err != nil {
		t.Fatal(err)
	}
}

func TestDiskConcurrentSameKeyPuts(t *testing.T) {
	ctx := context.Background()
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			value := []byte(fmt.Sprintf("writer-%d", g))
			for i := 0; i < 20; i++ {
				if err := d.Put(ctx, "contended", value); err != nil {
					t.Error(err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	// last writer wins, but the value must be one complete write
	value, ok, err := d.Get(ctx, "contended")
	if err != nil || !ok {
		t.Fatalf("Get returned ok=%v err=%v", ok, err)
	}
	if !strings.HasPrefix(string(value), "writer-") {
		t.Fatalf("Value is %q", value)
	}
}

func TestDiskErrorsCarryStoreError(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDisk(dir)
	if err != nil {
		t.Fatal(err)
	}
	// turn the entry path into a directory so reading it fails
	ctx := context.Background()
	if err := d.Put(ctx, "key", []byte("v")); err != nil {
		t.Fatal(err)
	}
	path := d.path("key")
	os.Remove(path)
	if err := os.MkdirAll(filepath.Join(path, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	_, _, err = d.Get(ctx, "key")
	var storeErr *Error
	if !errors.As(err, &storeErr) {
		t.Fatalf("Error is %v", err)
	}
}
