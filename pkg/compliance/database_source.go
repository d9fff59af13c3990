package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DatabaseHoldSource looks up legal holds in a Postgres table, keyed
// by (database, schema, table). A non-null pk_column/pk_values pair
// marks a record-level hold instead of a whole-table hold.
type DatabaseHoldSource struct {
	db        *sql.DB
	tableName string
}

// NewDatabaseHoldSource uses tableName (schema-qualified if needed) as
// the legal-hold table. Its expected shape:
//
//	database TEXT, schema_name TEXT, table_name TEXT,
//	table_hold BOOLEAN, pk_column TEXT, pk_values JSONB
func NewDatabaseHoldSource(db *sql.DB, tableName string) *DatabaseHoldSource {
	return &DatabaseHoldSource{db: db, tableName: tableName}
}

func (s *DatabaseHoldSource) LookupHold(ctx context.Context, database, schema, table string) (*Hold, error) {
	var tableHold bool
	var pkColumn sql.NullString
	var pkValuesJSON []byte

	query := fmt.Sprintf(`
		SELECT table_hold, pk_column, pk_values
		FROM %s WHERE database = $1 AND schema_name = $2 AND table_name = $3
	`, s.tableName)
	err := s.db.QueryRowContext(ctx, query, database, schema, table).Scan(&tableHold, &pkColumn, &pkValuesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("compliance: lookup hold %s/%s/%s: %w", database, schema, table, err)
	}

	hold := &Hold{TableHold: tableHold}
	if pkColumn.Valid {
		hold.PKColumn = pkColumn.String
		if len(pkValuesJSON) > 0 {
			if err := json.Unmarshal(pkValuesJSON, &hold.PKValues); err != nil {
				return nil, fmt.Errorf("compliance: decode pk_values for %s/%s/%s: %w", database, schema, table, err)
			}
		}
	}
	return hold, nil
}
