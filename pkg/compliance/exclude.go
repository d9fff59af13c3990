package compliance

import (
	"fmt"
	"strings"
)

// ExcludeClause renders a record-level hold's primary keys as a NOT IN
// predicate, suitable for TableTarget.ExtraWhere (pkg/pipeline):
// narrows the batch select around held rows instead of blocking the
// whole table the way a table-level hold does. Returns "" for a nil
// hold or a table-level hold (callers should never reach archiving in
// that case — Evaluate already refused it).
func (h *Hold) ExcludeClause() string {
	if h == nil || h.TableHold || len(h.PKValues) == 0 {
		return ""
	}
	literals := make([]string, len(h.PKValues))
	for i, v := range h.PKValues {
		literals[i] = sqlLiteral(v)
	}
	return fmt.Sprintf("%s NOT IN (%s)", quoteIdent(h.PKColumn), strings.Join(literals, ", "))
}

func sqlLiteral(v interface{}) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
