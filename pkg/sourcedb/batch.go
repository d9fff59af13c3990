package sourcedb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/labsbykora/audit-table-archiver/pkg/codec"
)

// Cursor is the (timestamp, primary-key) position the next batch
// resumes from. Empty on a table's first batch.
type Cursor struct {
	TS time.Time
	PK []interface{}
}

// BatchSpec describes one batch fetch: the table, its timestamp and
// primary-key columns, the archive cutoff, the resume cursor, and the
// row limit (the Table Orchestrator's current adaptive batch size).
type BatchSpec struct {
	Schema     string
	Table      string
	Columns    []string
	// ColumnTypes maps each of Columns to its introspected Postgres
	// data_type (e.g. "numeric", "bytea", "timestamp with time zone"),
	// as returned by Introspect/pgutil.QuerySchema. scanBatch consults
	// it to wrap scanned values in the codec type their column
	// requires; a column missing from the map is encoded as-is.
	ColumnTypes map[string]string
	TSColumn   string
	PKColumns  []string
	Cutoff     time.Time
	After      Cursor
	Limit      int
	ExtraWhere string // additional AND clause, e.g. a legal-hold predicate; never user-interpolated
}

// Batch is one transaction-scoped unit of work: the fetched rows, the
// n_db count, and the open *sql.Tx the caller drives through
// serialize -> upload -> verify -> delete -> commit.
type Batch struct {
	Tx      *sql.Tx
	NDB     int
	Rows    []codec.Row
	PKs     [][]interface{}
	MaxTS   time.Time
	MaxPK   []interface{}
}

// BeginBatch opens a transaction, counts matching rows (n_db), then
// fetches up to spec.Limit of them with FOR UPDATE SKIP LOCKED,
// ordered strictly (ts ASC, pk ASC). The caller must Commit or
// Rollback the returned Batch.Tx.
func (d *Database) BeginBatch(ctx context.Context, spec BatchSpec) (*Batch, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("sourcedb: begin batch tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", d.cfg.StatementTimeout.Milliseconds())); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("sourcedb: set statement_timeout: %w", err)
	}

	qualified := pgQualify(spec.Schema, spec.Table)
	where, args := spec.whereClause()

	var ndb int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, qualified, where)
	if err := tx.QueryRowContext(ctx, countQuery, args...).Scan(&ndb); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("sourcedb: count batch: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s
		ORDER BY %s
		LIMIT %d
		FOR UPDATE SKIP LOCKED
	`, strings.Join(spec.Columns, ", "), qualified, where, spec.orderBy(), spec.Limit)

	rows, err := tx.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("sourcedb: select batch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	batch, err := scanBatch(rows, spec)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	batch.Tx = tx
	batch.NDB = ndb
	return batch, nil
}

// DeleteBatch deletes exactly the rows in b.PKs inside a savepoint,
// rolling back to the savepoint (not the whole transaction) on
// failure, and asserting the affected row count equals len(b.PKs).
func (d *Database) DeleteBatch(ctx context.Context, tx *sql.Tx, spec BatchSpec, pks [][]interface{}) error {
	if len(pks) == 0 {
		return nil
	}

	const savepoint = "archiver_delete"
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("sourcedb: create savepoint: %w", err)
	}

	query, args := spec.deleteQuery(pks)
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		_, _ = tx.Exec("ROLLBACK TO SAVEPOINT " + savepoint)
		return fmt.Errorf("sourcedb: delete batch: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		_, _ = tx.Exec("ROLLBACK TO SAVEPOINT " + savepoint)
		return fmt.Errorf("sourcedb: delete row count: %w", err)
	}
	if int(affected) != len(pks) {
		_, _ = tx.Exec("ROLLBACK TO SAVEPOINT " + savepoint)
		return fmt.Errorf("sourcedb: delete affected %d rows, expected %d", affected, len(pks))
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("sourcedb: release savepoint: %w", err)
	}
	return nil
}

func pgQualify(schema, table string) string {
	return fmt.Sprintf("%q.%q", schema, table)
}
