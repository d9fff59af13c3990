package pgutil

import (
	"database/sql"
	"fmt"

	"github.com/labsbykora/audit-table-archiver/internal/dbutil/dbschema"
)

// QuerySchema introspects the named table (schema-qualified) via
// information_schema, returning its columns, primary
// key, and unique constraints. It never uses string-interpolated user
// data: the schema and table names are passed as bind parameters to
// information_schema, which accepts them as ordinary text predicates.
func QuerySchema(db *sql.DB, schemaName, tableName string) (*dbschema.Table, error) {
	table := &dbschema.Table{Name: tableName}

	columnRows, err := db.Query(`
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("pgutil: query columns: %w", err)
	}
	defer func() { _ = columnRows.Close() }()

	for columnRows.Next() {
		var name, dataType, nullable string
		if err := columnRows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("pgutil: scan column: %w", err)
		}
		table.Columns = append(table.Columns, &dbschema.Column{
			Name:       name,
			Type:       dataType,
			IsNullable: nullable == "YES",
		})
	}
	if err := columnRows.Err(); err != nil {
		return nil, err
	}

	pk, err := queryPrimaryKey(db, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	table.PrimaryKey = pk

	unique, err := queryUniqueConstraints(db, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	table.Unique = unique

	return table, nil
}

func queryPrimaryKey(db *sql.DB, schemaName, tableName string) ([]string, error) {
	rows, err := db.Query(`
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY kcu.ordinal_position
	`, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("pgutil: query primary key: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pk []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		pk = append(pk, col)
	}
	return pk, rows.Err()
}

func queryUniqueConstraints(db *sql.DB, schemaName, tableName string) ([][]string, error) {
	rows, err := db.Query(`
		SELECT tc.constraint_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'UNIQUE'
			AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY tc.constraint_name, kcu.ordinal_position
	`, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("pgutil: query unique constraints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	groups := map[string][]string{}
	var order []string
	for rows.Next() {
		var constraint, col string
		if err := rows.Scan(&constraint, &col); err != nil {
			return nil, err
		}
		if _, ok := groups[constraint]; !ok {
			order = append(order, constraint)
		}
		groups[constraint] = append(groups[constraint], col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([][]string, 0, len(order))
	for _, name := range order {
		result = append(result, groups[name])
	}
	return result, nil
}

// QueryIndexes returns the names of indexes defined on the table, for
// MetadataRecord's "index list" field.
func QueryIndexes(db *sql.DB, schemaName, tableName string) ([]string, error) {
	rows, err := db.Query(`
		SELECT indexname FROM pg_indexes
		WHERE schemaname = $1 AND tablename = $2
		ORDER BY indexname
	`, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("pgutil: query indexes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ServerVersion returns the Postgres server_version string, recorded
// in MetadataRecord.
func ServerVersion(db *sql.DB) (string, error) {
	var version string
	if err := db.QueryRow(`SHOW server_version`).Scan(&version); err != nil {
		return "", fmt.Errorf("pgutil: query server version: %w", err)
	}
	return version, nil
}
