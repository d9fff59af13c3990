package sourcedb

import (
	"fmt"

	"github.com/labsbykora/audit-table-archiver/internal/dbutil/dbschema"
	"github.com/labsbykora/audit-table-archiver/internal/dbutil/pgutil"
)

// Introspect returns the current schema of schemaName.tableName along
// with its canonical hash for TableTarget drift detection.
func (d *Database) Introspect(schemaName, tableName string) (*dbschema.Table, string, error) {
	table, err := pgutil.QuerySchema(d.db, schemaName, tableName)
	if err != nil {
		return nil, "", fmt.Errorf("sourcedb: introspect %s.%s: %w", schemaName, tableName, err)
	}

	schema := &dbschema.Schema{Tables: []*dbschema.Table{table}}
	hash, err := schema.Hash()
	if err != nil {
		return nil, "", fmt.Errorf("sourcedb: hash schema for %s.%s: %w", schemaName, tableName, err)
	}
	return table, hash, nil
}

// CheckDrift reports whether table's current schema hash still
// matches expectedHash (the hash recorded on the TableTarget when the
// table was first configured for archiving).
func (d *Database) CheckDrift(schemaName, tableName, expectedHash string) (drifted bool, currentHash string, err error) {
	_, currentHash, err = d.Introspect(schemaName, tableName)
	if err != nil {
		return false, "", err
	}
	return currentHash != expectedHash, currentHash, nil
}
