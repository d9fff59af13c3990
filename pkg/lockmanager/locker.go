// Package lockmanager implements the archiver's two layers of mutual
// exclusion: a process-wide single-instance lock held for the whole
// run, and a per-table lock held while a table is being archived.
// Three backends (file, database, distributed) satisfy one Backend
// interface; Manager adds acquire-retry, heartbeat, and stale-lock
// detection on top of whichever backend is configured.
package lockmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/labsbykora/audit-table-archiver/internal/sync2"
	"github.com/labsbykora/audit-table-archiver/pkg/retry"
)

// ErrNotAcquired is returned by TryAcquire when the lock is already
// held by someone else.
var ErrNotAcquired = errors.New("lockmanager: lock already held")

// Backend is the narrow surface each concrete lock implementation
// provides. token is an opaque value the backend uses to recognize
// its own lock on Renew/Release (a fencing token), not interpreted by
// Manager.
type Backend interface {
	// TryAcquire attempts to take name's lock non-blocking. ok is
	// false (err nil) if someone else already holds it.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	// Renew extends the lock's TTL. It must fail if token no longer
	// matches the current holder (lost the lock to a steal or TTL
	// expiry).
	Renew(ctx context.Context, name, token string, ttl time.Duration) error
	// Release gives up the lock. It is a no-op, not an error, if the
	// lock is already gone.
	Release(ctx context.Context, name, token string) error
}

// Manager drives a Backend with acquire-retry and a heartbeat cycle.
type Manager struct {
	backend Backend
	retry   retry.Policy
}

// NewManager wraps backend. acquireRetry governs how Acquire retries
// a busy lock; with retry.Default and an always-transient classifier,
// Acquire makes at most 3 attempts before giving up.
func NewManager(backend Backend, acquireRetry retry.Policy) *Manager {
	return &Manager{backend: backend, retry: acquireRetry}
}

// Lease represents a held lock with a live heartbeat. Lost() closes
// once the heartbeat has failed to renew for 2x ttl, signalling
// callers to abort whatever the lock was
// protecting.
type Lease struct {
	name  string
	token string
	ttl   time.Duration

	mu     sync.Mutex
	lost   chan struct{}
	closed bool

	cycle  *sync2.Cycle
	group  *errgroup.Group
	cancel context.CancelFunc
}

// Name is the lock name this lease holds.
func (l *Lease) Name() string { return l.name }

// Lost closes when the heartbeat has been unable to renew the lock
// for 2x its TTL. Callers holding a per-table lease select on this
// alongside their batch work to abort promptly on a lost lock.
func (l *Lease) Lost() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lost
}

func (l *Lease) markLost() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.lost)
	}
}

// TryAcquire attempts name's lock once, returning ErrNotAcquired if
// another holder has it. On success it starts a heartbeat goroutine
// that renews the lock every ttl/4 until Release or a lost heartbeat.
func (m *Manager) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	token, ok, err := m.backend.TryAcquire(ctx, name, ttl)
	if err != nil {
		return nil, fmt.Errorf("lockmanager: try acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return m.startLease(name, token, ttl), nil
}

// Acquire blocks, retrying TryAcquire under the Manager's configured
// retry policy, until the lock is taken, the policy's attempts run
// out, or ctx is cancelled.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	var lease *Lease
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		l, err := m.TryAcquire(ctx, name, ttl)
		if errors.Is(err, ErrNotAcquired) {
			return err
		}
		if err != nil {
			return err
		}
		lease = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lockmanager: acquire %s: %w", name, err)
	}
	return lease, nil
}

func (m *Manager) startLease(name, token string, ttl time.Duration) *Lease {
	heartbeatCtx, cancel := context.WithCancel(context.Background())
	l := &Lease{
		name:   name,
		token:  token,
		ttl:    ttl,
		lost:   make(chan struct{}),
		cycle:  sync2.NewCycle(ttl / 4),
		group:  &errgroup.Group{},
		cancel: cancel,
	}

	var lastRenew = time.Now()
	var mu sync.Mutex
	l.cycle.Start(heartbeatCtx, l.group, func(ctx context.Context) error {
		err := m.backend.Renew(ctx, name, token, ttl)
		mu.Lock()
		if err == nil {
			lastRenew = time.Now()
		}
		stale := time.Since(lastRenew) > 2*ttl
		mu.Unlock()
		if stale {
			l.markLost()
			return errStopCycle
		}
		return nil
	})
	return l
}

// errStopCycle is a private sentinel that ends the heartbeat cycle's
// errgroup without surfacing as a real failure to callers (Lost()
// already communicates it).
var errStopCycle = errors.New("lockmanager: heartbeat stopped after stale lease")

// Release stops the heartbeat and releases the underlying lock,
// whether or not the lease was lost. Safe to call more than once;
// calls after the first are no-ops.
func (m *Manager) Release(ctx context.Context, l *Lease) error {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	if !l.closed {
		l.closed = true
		close(l.lost)
	}
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	_ = l.group.Wait()

	return m.backend.Release(ctx, l.name, l.token)
}
