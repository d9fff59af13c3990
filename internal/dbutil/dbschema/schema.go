// Package dbschema models the introspected shape of a source table and
// produces the canonical schema hash used for drift detection
// (TableTarget.schema-hash).
package dbschema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Reference describes a foreign key on a Column.
type Reference struct {
	Table    string
	Column   string
	OnDelete string
}

// Column is one introspected column.
type Column struct {
	Name       string
	Type       string
	IsNullable bool
	Reference  *Reference
}

// Table is one introspected table: its columns, primary key, and
// unique constraints.
type Table struct {
	Name       string
	Columns    []*Column
	PrimaryKey []string
	Unique     [][]string
}

// Schema is the introspected shape of one or more tables.
type Schema struct {
	Tables []*Table
}

// Sort orders tables, columns, and unique-constraint groups
// deterministically so two structurally-identical schemas compare
// equal regardless of introspection order.
func (s *Schema) Sort() {
	sort.Slice(s.Tables, func(i, j int) bool { return s.Tables[i].Name < s.Tables[j].Name })
	for _, table := range s.Tables {
		sort.Slice(table.Columns, func(i, j int) bool { return table.Columns[i].Name < table.Columns[j].Name })
		sort.Strings(table.PrimaryKey)
		for _, group := range table.Unique {
			sort.Strings(group)
		}
		sort.Slice(table.Unique, func(i, j int) bool {
			return joinKey(table.Unique[i]) < joinKey(table.Unique[j])
		})
	}
}

func joinKey(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p + "\x00"
	}
	return out
}

// Hash returns the canonical SHA-256 hex digest of the schema, after
// sorting it into a deterministic order. The same column set, types,
// nullability, and key structure always hashes the same regardless of
// how the database happened to return them.
func (s *Schema) Hash() (string, error) {
	clone := *s
	clone.Sort()
	encoded, err := json.Marshal(clone)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// Table returns the named table, or nil if it is not present.
func (s *Schema) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}
