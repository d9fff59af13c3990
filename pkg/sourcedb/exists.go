package sourcedb

import (
	"context"
	"fmt"
)

// AnyExist reports whether any of pks are still present in
// schema.table, for the Verifier's post-commit sample-absence check.
func (d *Database) AnyExist(ctx context.Context, schemaName, tableName string, pkColumns []string, pks [][]interface{}) (bool, error) {
	if len(pks) == 0 {
		return false, nil
	}
	spec := BatchSpec{Schema: schemaName, Table: tableName, PKColumns: pkColumns}
	query, args := spec.existsQuery(pks)

	var exists bool
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("sourcedb: exists check on %s.%s: %w", schemaName, tableName, err)
	}
	return exists, nil
}
