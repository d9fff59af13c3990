// Package migrate runs versioned schema migrations against the
// archiver's own metadata tables (watermark, checkpoint, and audit,
// when their database-table backend is enabled).
package migrate

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// DB is the subset of *sql.DB migrate needs, plus the two dialect
// hooks every backend must supply: Rebind turns a `?`-placeholder
// query into the dialect's bind-parameter syntax, and Schema reports
// the schema SQL the caller wants CreateTable to converge on.
type DB interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Begin() (*sql.Tx, error)

	Rebind(s string) string
	Schema() string
}

// execer is the subset of *sql.DB (and of DB) that createTable needs;
// both CreateTable and Create funnel into the same implementation
// through it.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// CreateTable creates name using schema if it does not already exist.
// If it exists, schema must match byte-for-byte what created it, or
// CreateTable returns an error: a drifted metadata schema is a
// configuration bug, not something to migrate silently.
func CreateTable(db *sql.DB, rebind func(string) string, name, schema string) error {
	return createTable(db, rebind, name, schema)
}

// Create is the DB-interface-driven form of CreateTable: it rebinds
// and pulls the target schema off db itself.
func Create(name string, db DB) error {
	return createTable(db, db.Rebind, name, db.Schema())
}

func createTable(db execer, rebind func(string) string, name, schema string) error {
	_, err := db.Exec(rebind(`CREATE TABLE IF NOT EXISTS table_schemas (name TEXT UNIQUE NOT NULL, schema TEXT NOT NULL)`))
	if err != nil {
		return fmt.Errorf("migrate: ensure table_schemas: %w", err)
	}

	var existing string
	err = db.QueryRow(rebind(`SELECT schema FROM table_schemas WHERE name = ?`), name).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migrate: create table %q: %w", name, err)
		}
		_, err = db.Exec(rebind(`INSERT INTO table_schemas (name, schema) VALUES (?, ?)`), name, schema)
		if err != nil {
			return fmt.Errorf("migrate: record schema for %q: %w", name, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("migrate: query table_schemas: %w", err)
	case existing != schema:
		return fmt.Errorf("migrate: table %q already exists with a different schema", name)
	default:
		return nil
	}
}

// Action performs one migration step against tx. db is provided
// alongside tx for actions (like Func) that need to issue queries
// outside the step's own transaction, e.g. to re-derive state from
// application code rather than raw SQL.
type Action interface {
	Run(log *zap.Logger, db DB, tx *sql.Tx) error
}

// SQL runs each statement in order against the step's transaction.
type SQL []string

// Run implements Action.
func (steps SQL) Run(log *zap.Logger, db DB, tx *sql.Tx) error {
	for _, stmt := range steps {
		if _, err := tx.Exec(db.Rebind(stmt)); err != nil {
			return fmt.Errorf("migrate: exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Func adapts a plain function to Action.
type Func func(log *zap.Logger, db DB, tx *sql.Tx) error

// Run implements Action.
func (fn Func) Run(log *zap.Logger, db DB, tx *sql.Tx) error {
	return fn(log, db, tx)
}

// Step is one numbered migration.
type Step struct {
	Description string
	Version     int
	Action      Action
}

// Migration is an ordered list of Steps tracked in Table.
type Migration struct {
	Table string
	Steps []*Step
}

// Run brings db's schema up to the highest Version in m.Steps,
// applying every pending step in order inside its own transaction.
// A step that fails leaves the version table at the last committed
// version, so Run can simply be called again after the underlying
// problem is fixed.
func (m *Migration) Run(log *zap.Logger, db DB) error {
	if _, err := db.Exec(db.Rebind(`CREATE TABLE IF NOT EXISTS ` + m.Table + ` (version INTEGER NOT NULL)`)); err != nil {
		return fmt.Errorf("migrate: ensure version table %q: %w", m.Table, err)
	}

	current, err := m.currentVersion(db)
	if err != nil {
		return err
	}

	for _, step := range m.Steps {
		if step.Version <= current {
			continue
		}

		if err := m.runStep(log, db, step); err != nil {
			return fmt.Errorf("migrate: step %d (%s): %w", step.Version, step.Description, err)
		}
		log.Info("migration applied", zap.Int("version", step.Version), zap.String("description", step.Description))
		current = step.Version
	}

	return nil
}

func (m *Migration) currentVersion(db DB) (int, error) {
	var version int
	err := db.QueryRow(db.Rebind(`SELECT version FROM ` + m.Table + ` ORDER BY version DESC LIMIT 1`)).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("migrate: query current version: %w", err)
	default:
		return version, nil
	}
}

func (m *Migration) runStep(log *zap.Logger, db DB, step *Step) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := step.Action.Run(log, db, tx); err != nil {
		return err
	}

	_, err = tx.Exec(db.Rebind(`INSERT INTO `+m.Table+` (version) VALUES (?)`), step.Version)
	if err != nil {
		return fmt.Errorf("migrate: record version %d: %w", step.Version, err)
	}

	return tx.Commit()
}
