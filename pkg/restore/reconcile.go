package restore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labsbykora/audit-table-archiver/internal/dbutil/dbschema"
	"github.com/labsbykora/audit-table-archiver/pkg/codec"
)

// reconcile reshapes each decoded row against table's current columns
// per strategy, dropping the reserved codec fields in every case.
// It returns the rows fit to load and a count of rows dropped under a
// lenient/transform strategy (never under strict, which instead
// errors).
func reconcile(rows []codec.Row, table *dbschema.Table, strategy SchemaStrategy) ([]codec.Row, int, error) {
	if table == nil {
		return nil, 0, fmt.Errorf("restore: no target table to reconcile against")
	}

	known := make(map[string]*dbschema.Column, len(table.Columns))
	for _, c := range table.Columns {
		known[c.Name] = c
	}

	out := make([]codec.Row, 0, len(rows))
	dropped := 0

	for _, row := range rows {
		clean := stripReservedFields(row)

		switch strategy {
		case SchemaStrict, SchemaNone:
			if strategy == SchemaStrict {
				if err := requireExactColumns(clean, known); err != nil {
					return nil, dropped, err
				}
			}
			out = append(out, clean)

		case SchemaLenient, SchemaTransform:
			reconciled, ok := reconcileLenient(clean, known, table.Columns)
			if !ok {
				dropped++
				continue
			}
			out = append(out, reconciled)

		default:
			return nil, dropped, fmt.Errorf("restore: unknown schema strategy %q", strategy)
		}
	}

	return out, dropped, nil
}

func stripReservedFields(row codec.Row) codec.Row {
	clean := make(codec.Row, len(row))
	for k, v := range row {
		switch k {
		case codec.FieldArchivedAt, codec.FieldBatchFingerprint, codec.FieldSourceDatabase, codec.FieldSourceTable:
			continue
		default:
			clean[k] = v
		}
	}
	return clean
}

func requireExactColumns(row codec.Row, known map[string]*dbschema.Column) error {
	for name := range row {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("restore: column %q no longer exists on the target table", name)
		}
	}
	for name, col := range known {
		if _, ok := row[name]; !ok && !col.IsNullable {
			return fmt.Errorf("restore: required column %q missing from archived row", name)
		}
	}
	return nil
}

// reconcileLenient drops any archived column the target no longer
// has, fills any new NOT NULL column with its zero value, and casts
// values whose stored representation needs coercing to the target
// column's current type. It returns ok=false if a required column has
// no value and no safe zero value can be produced.
func reconcileLenient(row codec.Row, known map[string]*dbschema.Column, columns []*dbschema.Column) (codec.Row, bool) {
	out := make(codec.Row, len(known))
	for _, col := range columns {
		v, present := row[col.Name]
		if !present {
			if col.IsNullable {
				continue
			}
			zero, ok := zeroValueFor(col.Type)
			if !ok {
				return nil, false
			}
			out[col.Name] = zero
			continue
		}
		out[col.Name] = coerce(v, col.Type)
	}
	return out, true
}

// coerce adjusts a decoded JSON value to better match targetType when
// the two obviously diverge (e.g. a numeric column that arrived as a
// codec.Decimal string, or a binary column that arrived with its
// sentinel prefix still attached because map[string]interface{}
// decoding bypasses codec.Binary's UnmarshalJSON).
func coerce(v interface{}, targetType string) interface{} {
	s, isString := v.(string)
	if !isString {
		return v
	}

	if rest, ok := strings.CutPrefix(s, codec.BinarySentinel); ok {
		return rest
	}

	switch targetType {
	case "integer", "bigint", "smallint":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case "numeric", "decimal", "real", "double precision":
		return s
	}
	return v
}

func zeroValueFor(colType string) (interface{}, bool) {
	switch colType {
	case "integer", "bigint", "smallint", "numeric", "decimal", "real", "double precision":
		return 0, true
	case "boolean":
		return false, true
	case "text", "character varying", "varchar", "char":
		return "", true
	default:
		return nil, false
	}
}
