// Package sourcedb implements the Source-DB Adapter: a
// per-database connection pool, schema introspection, server-time
// cutoff computation, the locking batch-select/batch-delete pair, and
// vacuum/analyze invocation.
package sourcedb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/labsbykora/audit-table-archiver/internal/dbutil/pgutil"
)

// PoolConfig sizes and tunes one database's connection pool.
type PoolConfig struct {
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	StatementTimeout   time.Duration
	HealthCheckTimeout time.Duration
}

// DefaultPoolConfig returns the archiver's default pool settings: pool size 5,
// statement timeout 30 min.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:       5,
		MaxIdleConns:       5,
		ConnMaxLifetime:    time.Hour,
		StatementTimeout:   30 * time.Minute,
		HealthCheckTimeout: 5 * time.Second,
	}
}

// Database is one logical source database: its pool plus the identity
// archiveerr.Context and MetadataRecord entries need.
type Database struct {
	log  *zap.Logger
	name string
	db   *sql.DB
	cfg  PoolConfig
}

// Open opens a pool against connstr, tagging it with an
// application_name that identifies this database by name.
func Open(log *zap.Logger, name, connstr string, cfg PoolConfig) (*Database, error) {
	db, err := pgutil.Open(connstr, "archiver-"+name)
	if err != nil {
		return nil, fmt.Errorf("sourcedb: open %s: %w", name, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Database{
		log:  log.Named("sourcedb").With(zap.String("database", name)),
		name: name,
		db:   db,
		cfg:  cfg,
	}, nil
}

// Name returns the logical database name this pool was opened for.
func (d *Database) Name() string { return d.name }

// Close closes the underlying pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// HealthCheck pings the pool with HealthCheckTimeout, returning an
// error the Table Orchestrator should treat as a table-level failure
// for every table on this database.
func (d *Database) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HealthCheckTimeout)
	defer cancel()
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sourcedb: health check %s: %w", d.name, err)
	}
	return nil
}

// BeginTx opens a plain transaction against the pool, for callers
// outside this package that need transactional control the narrower
// batch helpers don't expose (the Restore Engine's bulk loader).
func (d *Database) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sourcedb: begin tx: %w", err)
	}
	return tx, nil
}

// SQLDB exposes the underlying pool for callers that wire their own
// component directly against it (the database-backed lock manager,
// compliance hold source, audit sink, and watermark store all take a
// plain *sql.DB rather than depending on this package).
func (d *Database) SQLDB() *sql.DB {
	return d.db
}

// ServerTime returns the source's current transaction time and the
// skew between it and the caller's clock, for cutoff computation.
// A skew beyond the caller's tolerance should abort the run rather
// than silently compute an unsafe cutoff.
func (d *Database) ServerTime(ctx context.Context) (serverNow time.Time, skew time.Duration, err error) {
	localBefore := time.Now()
	if err := d.db.QueryRowContext(ctx, `SELECT now()`).Scan(&serverNow); err != nil {
		return time.Time{}, 0, fmt.Errorf("sourcedb: server time: %w", err)
	}
	localAfter := time.Now()
	localMid := localBefore.Add(localAfter.Sub(localBefore) / 2)
	skew = serverNow.Sub(localMid)
	return serverNow, skew, nil
}
