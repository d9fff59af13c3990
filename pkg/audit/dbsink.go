package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/labsbykora/audit-table-archiver/internal/migrate"
)

var postgresBindVar = regexp.MustCompile(`\?`)

// rebindPostgres turns `?`-placeholder SQL into Postgres's `$1, $2,
// ...` bind-parameter syntax, for migrate.CreateTable.
func rebindPostgres(query string) string {
	n := 0
	return postgresBindVar.ReplaceAllStringFunc(query, func(string) string {
		n++
		return "$" + strconv.Itoa(n)
	})
}

const eventsDDL = `
CREATE TABLE archiver_audit_events (
	id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL,
	kind TEXT NOT NULL,
	database TEXT NOT NULL,
	schema_name TEXT,
	table_name TEXT,
	row_count BIGINT,
	duration_ns BIGINT,
	status TEXT NOT NULL,
	error_summary TEXT,
	detail JSONB
)`

// DBSink is the optional dedicated-table audit backend, persisting
// events to a database table in addition to (or instead of) the
// object store sink. Rows are
// insert-only; nothing in this package issues an UPDATE or DELETE
// against archiver_audit_events.
type DBSink struct {
	db *sql.DB
}

// NewDBSink wraps db. Callers run Migration once at startup.
func NewDBSink(db *sql.DB) *DBSink {
	return &DBSink{db: db}
}

// Migration creates the audit events table if it does not exist.
func Migration(db *sql.DB) error {
	return migrate.CreateTable(db, rebindPostgres, "archiver_audit_events", eventsDDL)
}

func (s *DBSink) Write(ctx context.Context, event Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("audit: encode detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO archiver_audit_events
			(occurred_at, actor, kind, database, schema_name, table_name, row_count, duration_ns, status, error_summary, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, event.Timestamp, event.Actor, string(event.Kind), event.Database, event.Schema, event.Table,
		event.RowCount, event.Duration.Nanoseconds(), event.Status, event.ErrorSummary, detail)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}
