package lockmanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileBackend is the single-host process-wide lock: one advisory file
// lock per name under dir. The OS releases the lock automatically if
// the process dies, so staleness here is purely informational — the
// heartbeat timestamp written into the file lets an operator tell a
// held lock from an abandoned one.
type FileBackend struct {
	dir string

	mu    sync.Mutex
	locks map[string]*flock.Flock
}

// NewFileBackend roots locks under dir, which must already exist.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir, locks: make(map[string]*flock.Flock)}
}

func (b *FileBackend) path(name string) string {
	return filepath.Join(b.dir, name+".lock")
}

// TryAcquire takes the advisory file lock non-blocking. token is the
// lock's file path; Renew/Release look it back up by name, not token,
// since flock.Flock instances aren't re-creatable from a path alone
// once locked.
func (b *FileBackend) TryAcquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fl := flock.New(b.path(name))
	ok, err := fl.TryLock()
	if err != nil {
		return "", false, fmt.Errorf("lockmanager: file trylock %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	b.locks[name] = fl
	if err := b.writeHeartbeat(name); err != nil {
		_ = fl.Unlock()
		delete(b.locks, name)
		return "", false, err
	}
	return b.path(name), true, nil
}

// Renew rewrites the heartbeat timestamp; the OS-level lock itself
// does not expire.
func (b *FileBackend) Renew(ctx context.Context, name, token string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, held := b.locks[name]; !held {
		return fmt.Errorf("lockmanager: renew %s: not held by this process", name)
	}
	return b.writeHeartbeat(name)
}

// Release unlocks and removes the lock file.
func (b *FileBackend) Release(ctx context.Context, name, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	fl, held := b.locks[name]
	if !held {
		return nil
	}
	err := fl.Unlock()
	delete(b.locks, name)
	_ = os.Remove(b.path(name))
	if err != nil {
		return fmt.Errorf("lockmanager: file unlock %s: %w", name, err)
	}
	return nil
}

func (b *FileBackend) writeHeartbeat(name string) error {
	data := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := os.WriteFile(b.path(name)+".heartbeat", data, 0o644); err != nil {
		return fmt.Errorf("lockmanager: write heartbeat %s: %w", name, err)
	}
	return nil
}
