package restore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/labsbykora/audit-table-archiver/internal/dbutil/dbschema"
	"github.com/labsbykora/audit-table-archiver/pkg/codec"
)

// txBeginner is the subset of *sourcedb.Database bulk loading needs.
type txBeginner interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
}

// BulkLoader loads reconciled rows into a target table using
// pq.CopyIn for ConflictFail (and any unrecognised strategy), and a
// parameterized INSERT ... ON CONFLICT, executed once per row, for
// ConflictSkip, ConflictOverwrite and ConflictUpsert, which COPY
// cannot express.
type BulkLoader struct {
	db txBeginner
}

// NewBulkLoader wires a BulkLoader against db.
func NewBulkLoader(db txBeginner) *BulkLoader {
	return &BulkLoader{db: db}
}

// Load restores rows into target.Schema.target.Table in a single
// transaction, committed once every row is written; target.CommitEvery
// and target.BulkLoadBatchSize are not read. It returns the number of
// rows actually written.
func (l *BulkLoader) Load(ctx context.Context, target Target, table *dbschema.Table, rows []codec.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	columns := columnOrder(rows)

	tx, err := l.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore: begin load tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var written int64
	switch target.Conflict {
	case ConflictFail:
		// COPY has no conflict vocabulary: a primary-key collision
		// aborts the whole load, which is exactly "fail" semantics.
		written, err = copyInRows(ctx, tx, target, columns, rows)
	case ConflictSkip:
		written, err = upsertRows(ctx, tx, target, table, columns, rows, false)
	case ConflictOverwrite, ConflictUpsert:
		written, err = upsertRows(ctx, tx, target, table, columns, rows, true)
	default:
		written, err = copyInRows(ctx, tx, target, columns, rows)
	}
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("restore: commit load: %w", err)
	}
	committed = true
	return written, nil
}

// columnOrder returns a stable column ordering covering every column
// present across rows, since not every row need carry every column
// (a lenient reconciliation may omit nullable columns with no value).
func columnOrder(rows []codec.Row) []string {
	set := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			set[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(set))
	for k := range set {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}

func copyInRows(ctx context.Context, tx *sql.Tx, target Target, columns []string, rows []codec.Row) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(target.Schema, target.Table, columns...))
	if err != nil {
		return 0, fmt.Errorf("restore: prepare copy: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var written int64
	for _, row := range rows {
		values := make([]interface{}, len(columns))
		for i, col := range columns {
			values[i] = row[col]
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return 0, fmt.Errorf("restore: copy row: %w", err)
		}
		written++
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return 0, fmt.Errorf("restore: flush copy: %w", err)
	}
	return written, nil
}

// upsertRows inserts rows one statement per row with an ON CONFLICT
// clause over the target's primary key, since COPY has no
// conflict-resolution vocabulary. doUpdate selects DO UPDATE SET
// (overwrite/upsert) over DO NOTHING (skip).
func upsertRows(ctx context.Context, tx *sql.Tx, target Target, table *dbschema.Table, columns []string, rows []codec.Row, doUpdate bool) (int64, error) {
	if len(table.PrimaryKey) == 0 {
		return 0, fmt.Errorf("restore: upsert requires a primary key on %s.%s", target.Schema, target.Table)
	}

	quotedCols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = quoteIdent(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	quotedPK := make([]string, len(table.PrimaryKey))
	for i, c := range table.PrimaryKey {
		quotedPK[i] = quoteIdent(c)
	}

	var updates []string
	for _, c := range columns {
		if containsString(table.PrimaryKey, c) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(c), quoteIdent(c)))
	}

	var query string
	if !doUpdate || len(updates) == 0 {
		query = fmt.Sprintf(`INSERT INTO %s.%s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING`,
			quoteIdent(target.Schema), quoteIdent(target.Table), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "), strings.Join(quotedPK, ", "))
	} else {
		query = fmt.Sprintf(`INSERT INTO %s.%s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
			quoteIdent(target.Schema), quoteIdent(target.Table), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "), strings.Join(quotedPK, ", "), strings.Join(updates, ", "))
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("restore: prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var written int64
	for _, row := range rows {
		values := make([]interface{}, len(columns))
		for i, col := range columns {
			values[i] = row[col]
		}
		res, err := stmt.ExecContext(ctx, values...)
		if err != nil {
			return 0, fmt.Errorf("restore: upsert row: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("restore: upsert row count: %w", err)
		}
		written += n
	}
	return written, nil
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
