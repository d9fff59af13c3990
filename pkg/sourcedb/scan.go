package sourcedb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/labsbykora/audit-table-archiver/pkg/codec"
)

// scanBatch drains rows into a Batch, generically (no per-column Go
// struct): each row is scanned into interface{} slots keyed by
// column name, the primary-key values are pulled out by position, and
// the running max (ts, pk) cursor is tracked for the next batch.
func scanBatch(rows *sql.Rows, spec BatchSpec) (*Batch, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sourcedb: columns: %w", err)
	}

	tsIndex := indexOf(columns, spec.TSColumn)
	pkIndexes := make([]int, len(spec.PKColumns))
	for i, col := range spec.PKColumns {
		pkIndexes[i] = indexOf(columns, col)
	}

	batch := &Batch{}
	for rows.Next() {
		scanned := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range scanned {
			ptrs[i] = &scanned[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sourcedb: scan row: %w", err)
		}

		row := make(codec.Row, len(columns))
		for i, col := range columns {
			row[col] = wrapColumnValue(spec.ColumnTypes[col], scanned[i])
		}
		batch.Rows = append(batch.Rows, row)

		pk := make([]interface{}, len(pkIndexes))
		for i, idx := range pkIndexes {
			pk[i] = scanned[idx]
		}
		batch.PKs = append(batch.PKs, pk)

		if tsIndex >= 0 {
			if ts, ok := scanned[tsIndex].(time.Time); ok {
				batch.MaxTS = ts
			}
		}
		batch.MaxPK = pk
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sourcedb: row iteration: %w", err)
	}
	return batch, nil
}

// wrapColumnValue maps a scanned driver value onto the codec wrapper
// type its introspected Postgres column type requires: a
// numeric/decimal column's raw []byte text representation becomes a
// codec.Decimal so no digit is lost to float64 rounding; a bytea
// column's already-decoded []byte becomes a codec.Binary so the
// writer can tell it apart from a Decimal and sentinel-prefix it; a
// timestamp column becomes a codec.Timestamp carrying whether the
// source column had a timezone attached. colType is empty for a
// column BatchSpec.ColumnTypes doesn't cover (e.g. introspection ran
// against an older schema snapshot); the raw value passes through
// unchanged in that case, same as lib/pq's default json.Marshal
// behavior before this mapping existed.
func wrapColumnValue(colType string, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch colType {
	case "numeric", "decimal":
		switch b := v.(type) {
		case []byte:
			return codec.Decimal(b)
		case string:
			return codec.Decimal(b)
		}
	case "bytea":
		if b, ok := v.([]byte); ok {
			return codec.Binary(b)
		}
	case "timestamp without time zone":
		if t, ok := v.(time.Time); ok {
			return codec.Timestamp{Time: t, Naive: true}
		}
	case "timestamp with time zone":
		if t, ok := v.(time.Time); ok {
			return codec.Timestamp{Time: t, Naive: false}
		}
	}
	return v
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}
