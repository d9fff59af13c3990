package objectstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/klauspost/compress/gzip"
)

var pendingBucket = []byte("pending")

// Fallback is the local-disk escape hatch used when a
// Put exhausts its retry budget, the payload is gzip-compressed onto
// local disk and indexed in a bolt database instead of being lost, so
// a later sweep can retry the upload.
type Fallback struct {
	dir string
	idx *bolt.DB
}

// NewFallback opens (creating if necessary) a fallback store rooted at
// dir, with its index at dir/fallback.db.
func NewFallback(dir string) (*Fallback, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("objectstore: fallback mkdir: %w", err)
	}
	idx, err := bolt.Open(filepath.Join(dir, "fallback.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("objectstore: fallback open index: %w", err)
	}
	if err := idx.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pendingBucket)
		return err
	}); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("objectstore: fallback create bucket: %w", err)
	}
	return &Fallback{dir: dir, idx: idx}, nil
}

// Close closes the index.
func (f *Fallback) Close() error {
	return f.idx.Close()
}

// Save writes data to local disk under a name derived from key and
// records key -> local path in the index, for a later sweep to find.
func (f *Fallback) Save(key string, data []byte) error {
	localPath := f.localPath(key)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("objectstore: fallback mkdir for %s: %w", key, err)
	}

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("objectstore: fallback create %s: %w", localPath, err)
	}
	defer func() { _ = file.Close() }()

	gz := gzip.NewWriter(file)
	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("objectstore: fallback write %s: %w", localPath, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("objectstore: fallback close %s: %w", localPath, err)
	}

	return f.idx.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).Put([]byte(key), []byte(localPath))
	})
}

// List returns the keys still pending upload.
func (f *Fallback) List() ([]string, error) {
	var keys []string
	err := f.idx.View(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Load reads back the decompressed payload previously saved under key.
func (f *Fallback) Load(key string) ([]byte, error) {
	var localPath string
	if err := f.idx.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(pendingBucket).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("objectstore: fallback has no entry for %s", key)
		}
		localPath = string(v)
		return nil
	}); err != nil {
		return nil, err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("objectstore: fallback open %s: %w", localPath, err)
	}
	defer func() { _ = file.Close() }()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("objectstore: fallback gzip reader %s: %w", localPath, err)
	}
	defer func() { _ = gz.Close() }()

	return io.ReadAll(gz)
}

// Remove deletes key's local file and index entry, called once the
// sweep successfully re-uploads it.
func (f *Fallback) Remove(key string) error {
	localPath := f.localPath(key)
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objectstore: fallback remove %s: %w", localPath, err)
	}
	return f.idx.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete([]byte(key))
	})
}

func (f *Fallback) localPath(key string) string {
	return filepath.Join(f.dir, filepath.FromSlash(key)+".gz")
}
