// Package utccheck wraps a *sql.DB so that every query argument of type
// time.Time or *time.Time is verified to be in UTC before it reaches the
// driver. The archiver's watermark and checkpoint math assumes every
// stored timestamp is UTC; a caller that accidentally passes a
// local-zone time would silently corrupt cutoff comparisons, so this
// wrapper turns that mistake into an immediate error instead.
package utccheck

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DB wraps *sql.DB, rejecting non-UTC time arguments.
type DB struct {
	db *sql.DB
}

// New returns a DB wrapping db.
func New(db *sql.DB) *DB {
	return &DB{db: db}
}

// Unwrap returns the underlying *sql.DB.
func (db *DB) Unwrap() *sql.DB {
	return db.db
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.db.Close()
}

// Exec checks args and then calls db.Exec.
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	if err := checkArgs(args); err != nil {
		return nil, err
	}
	return db.db.Exec(query, args...)
}

// ExecContext checks args and then calls db.ExecContext.
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := checkArgs(args); err != nil {
		return nil, err
	}
	return db.db.ExecContext(ctx, query, args...)
}

// Query checks args and then calls db.Query.
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	if err := checkArgs(args); err != nil {
		return nil, err
	}
	return db.db.Query(query, args...)
}

// QueryContext checks args and then calls db.QueryContext.
func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := checkArgs(args); err != nil {
		return nil, err
	}
	return db.db.QueryContext(ctx, query, args...)
}

// Begin starts a transaction wrapped with the same UTC check.
func (db *DB) Begin() (*Tx, error) {
	tx, err := db.db.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// BeginTx starts a transaction wrapped with the same UTC check.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps *sql.Tx with the same non-UTC argument rejection as DB.
type Tx struct {
	tx *sql.Tx
}

// Exec checks args and then calls tx.Exec.
func (tx *Tx) Exec(query string, args ...interface{}) (sql.Result, error) {
	if err := checkArgs(args); err != nil {
		return nil, err
	}
	return tx.tx.Exec(query, args...)
}

// ExecContext checks args and then calls tx.ExecContext.
func (tx *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := checkArgs(args); err != nil {
		return nil, err
	}
	return tx.tx.ExecContext(ctx, query, args...)
}

// Query checks args and then calls tx.Query.
func (tx *Tx) Query(query string, args ...interface{}) (*sql.Rows, error) {
	if err := checkArgs(args); err != nil {
		return nil, err
	}
	return tx.tx.Query(query, args...)
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

// Rollback rolls back the transaction.
func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

// Unwrap returns the underlying *sql.Tx.
func (tx *Tx) Unwrap() *sql.Tx {
	return tx.tx
}

func checkArgs(args []interface{}) error {
	for i, arg := range args {
		switch v := arg.(type) {
		case time.Time:
			if v.Location() != time.UTC {
				return fmt.Errorf("utccheck: argument %d is time.Time not in UTC: %v", i, v)
			}
		case *time.Time:
			if v != nil && v.Location() != time.UTC {
				return fmt.Errorf("utccheck: argument %d is *time.Time not in UTC: %v", i, *v)
			}
		}
	}
	return nil
}
