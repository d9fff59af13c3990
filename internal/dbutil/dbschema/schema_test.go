package dbschema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/internal/dbutil/dbschema"
)

func sampleSchema() *dbschema.Schema {
	return &dbschema.Schema{
		Tables: []*dbschema.Table{
			{
				Name: "audit_logs",
				Columns: []*dbschema.Column{
					{Name: "created_at", Type: "timestamptz", IsNullable: false},
					{Name: "id", Type: "bigint", IsNullable: false},
					{Name: "payload", Type: "jsonb", IsNullable: true},
				},
				PrimaryKey: []string{"id"},
			},
		},
	}
}

func TestHashIsStableAcrossColumnOrder(t *testing.T) {
	a := sampleSchema()

	b := sampleSchema()
	b.Tables[0].Columns[0], b.Tables[0].Columns[2] = b.Tables[0].Columns[2], b.Tables[0].Columns[0]

	hashA, err := a.Hash()
	require.NoError(t, err)
	hashB, err := b.Hash()
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
}

func TestHashChangesOnColumnTypeDrift(t *testing.T) {
	a := sampleSchema()
	b := sampleSchema()
	b.Tables[0].Columns[1].Type = "integer"

	hashA, err := a.Hash()
	require.NoError(t, err)
	hashB, err := b.Hash()
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestTableLookup(t *testing.T) {
	s := sampleSchema()
	assert.NotNil(t, s.Table("audit_logs"))
	assert.Nil(t, s.Table("missing"))
}

func TestSortOrdersUniqueGroupsDeterministically(t *testing.T) {
	s := &dbschema.Schema{
		Tables: []*dbschema.Table{
			{Name: "b"},
			{Name: "a", Unique: [][]string{{"y", "x"}, {"z"}}},
		},
	}
	s.Sort()
	require.Equal(t, "a", s.Tables[0].Name)
	assert.Equal(t, []string{"x", "y"}, s.Tables[0].Unique[0])
}
