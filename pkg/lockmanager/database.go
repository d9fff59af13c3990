package lockmanager

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DatabaseBackend is the Postgres session-level advisory lock
// backend: pg_try_advisory_lock/pg_advisory_unlock over a dedicated
// connection per lock name, keyed by hashtext(name). The lock is tied
// to the physical connection, so a crashed process (or a dropped
// connection) releases it for free — no heartbeat TTL bookkeeping is
// needed on the server side, only on this side to detect a dead conn.
type DatabaseBackend struct {
	db *sql.DB

	mu    sync.Mutex
	conns map[string]*sql.Conn
}

// NewDatabaseBackend uses db's connection pool to check out dedicated
// connections for each held lock.
func NewDatabaseBackend(db *sql.DB) *DatabaseBackend {
	return &DatabaseBackend{db: db, conns: make(map[string]*sql.Conn)}
}

func (b *DatabaseBackend) TryAcquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return "", false, fmt.Errorf("lockmanager: checkout conn for %s: %w", name, err)
	}

	var acquired bool
	err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&acquired)
	if err != nil {
		_ = conn.Close()
		return "", false, fmt.Errorf("lockmanager: pg_try_advisory_lock %s: %w", name, err)
	}
	if !acquired {
		_ = conn.Close()
		return "", false, nil
	}

	token := uuid.NewString()
	b.mu.Lock()
	b.conns[name] = conn
	b.mu.Unlock()
	return token, true, nil
}

// Renew pings the held connection; a dead connection means the
// advisory lock is already gone server-side.
func (b *DatabaseBackend) Renew(ctx context.Context, name, token string, ttl time.Duration) error {
	b.mu.Lock()
	conn, held := b.conns[name]
	b.mu.Unlock()
	if !held {
		return fmt.Errorf("lockmanager: renew %s: not held by this process", name)
	}
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("lockmanager: renew %s: connection lost: %w", name, err)
	}
	return nil
}

// Release runs pg_advisory_unlock and returns the connection to the
// pool (closing it, since the pool does not need to keep it pinned).
func (b *DatabaseBackend) Release(ctx context.Context, name, token string) error {
	b.mu.Lock()
	conn, held := b.conns[name]
	delete(b.conns, name)
	b.mu.Unlock()
	if !held {
		return nil
	}
	defer func() { _ = conn.Close() }()

	var released bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, name).Scan(&released); err != nil {
		return fmt.Errorf("lockmanager: pg_advisory_unlock %s: %w", name, err)
	}
	return nil
}
