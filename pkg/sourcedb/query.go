package sourcedb

import (
	"fmt"
	"strings"
)

// whereClause builds the batch select/count predicate: ts < cutoff,
// plus the row-value cursor comparison (ts, pk...) > (after_ts,
// after_pk...) when a resume cursor is set, plus any caller-supplied
// ExtraWhere (already fully parameterized by its own caller, e.g. the
// Compliance Gate's legal-hold predicate). Every value is bound, never
// string-interpolated.
func (s BatchSpec) whereClause() (string, []interface{}) {
	var b strings.Builder
	var args []interface{}

	args = append(args, s.Cutoff)
	fmt.Fprintf(&b, "%s < $%d", quoteIdent(s.TSColumn), len(args))

	if !s.After.TS.IsZero() || len(s.After.PK) > 0 {
		cols := append([]string{s.TSColumn}, s.PKColumns...)
		vals := append([]interface{}{s.After.TS}, s.After.PK...)

		quotedCols := make([]string, len(cols))
		for i, c := range cols {
			quotedCols[i] = quoteIdent(c)
		}

		phs := make([]string, len(vals))
		for i, v := range vals {
			args = append(args, v)
			phs[i] = fmt.Sprintf("$%d", len(args))
		}

		fmt.Fprintf(&b, " AND (%s) > (%s)", strings.Join(quotedCols, ", "), strings.Join(phs, ", "))
	}

	if s.ExtraWhere != "" {
		fmt.Fprintf(&b, " AND (%s)", s.ExtraWhere)
	}

	return b.String(), args
}

func (s BatchSpec) orderBy() string {
	cols := append([]string{s.TSColumn}, s.PKColumns...)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c) + " ASC"
	}
	return strings.Join(quoted, ", ")
}

// deleteQuery builds a parameterized DELETE restricted to exactly the
// primary keys in pks, using a row-value IN list for composite keys.
func (s BatchSpec) deleteQuery(pks [][]interface{}) (string, []interface{}) {
	var args []interface{}
	groups := make([]string, len(pks))

	for i, pk := range pks {
		phs := make([]string, len(pk))
		for j, v := range pk {
			args = append(args, v)
			phs[j] = fmt.Sprintf("$%d", len(args))
		}
		groups[i] = "(" + strings.Join(phs, ", ") + ")"
	}

	quotedPK := make([]string, len(s.PKColumns))
	for i, c := range s.PKColumns {
		quotedPK[i] = quoteIdent(c)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE (%s) IN (%s)`,
		pgQualify(s.Schema, s.Table),
		strings.Join(quotedPK, ", "),
		strings.Join(groups, ", "))
	return query, args
}

// existsQuery builds a parameterized EXISTS query for the sample
// absence check, using the same row-value IN list shape as
// deleteQuery.
func (s BatchSpec) existsQuery(pks [][]interface{}) (string, []interface{}) {
	var args []interface{}
	groups := make([]string, len(pks))

	for i, pk := range pks {
		phs := make([]string, len(pk))
		for j, v := range pk {
			args = append(args, v)
			phs[j] = fmt.Sprintf("$%d", len(args))
		}
		groups[i] = "(" + strings.Join(phs, ", ") + ")"
	}

	quotedPK := make([]string, len(s.PKColumns))
	for i, c := range s.PKColumns {
		quotedPK[i] = quoteIdent(c)
	}

	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE (%s) IN (%s))`,
		pgQualify(s.Schema, s.Table),
		strings.Join(quotedPK, ", "),
		strings.Join(groups, ", "))
	return query, args
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
