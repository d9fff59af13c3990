// Package compliance implements the Compliance Gate: the
// legal-hold/retention/encryption preconditions checked before a
// table's first batch.
package compliance

import (
	"context"
	"fmt"
)

// TableProfile is the subset of a table's configuration the gate
// needs to evaluate its preconditions.
type TableProfile struct {
	Database         string
	Schema           string
	Table            string
	Classification   string
	RetentionDays    int
	Critical         bool
	SSEOption        string
}

// Hold describes an active legal hold, either on the whole table or
// scoped to specific primary keys (a record-level hold, realized by
// the caller as an extra AND clause on the batch select).
type Hold struct {
	TableHold  bool
	PKColumn   string
	PKValues   []interface{}
}

// HoldSource looks up the active hold (if any) for a table. Implementations: a
// Postgres table, an HTTP endpoint, or a reloaded static file.
type HoldSource interface {
	LookupHold(ctx context.Context, database, schema, table string) (*Hold, error)
}

// RetentionBounds is the globally- or per-classification-configured
// [min, max] retention window.
type RetentionBounds struct {
	MinDays int
	MaxDays int
}

// Gate evaluates legal hold, retention bounds, and encryption
// requirements for a table before its first batch.
type Gate struct {
	holds                HoldSource
	bounds               func(classification string) RetentionBounds
	requireEncryptionForCritical bool
}

// NewGate constructs a Gate. bounds resolves the effective retention
// window for a table's classification (a constant function is fine
// when only one global window is configured).
func NewGate(holds HoldSource, bounds func(classification string) RetentionBounds, requireEncryptionForCritical bool) *Gate {
	return &Gate{holds: holds, bounds: bounds, requireEncryptionForCritical: requireEncryptionForCritical}
}

// Decision is the gate's verdict for a table.
type Decision struct {
	Allowed    bool
	Reason     string
	RecordHold *Hold // non-nil only when a record-level hold must gate the batch select
}

// Evaluate runs all three preconditions in spec order: hold, then
// retention, then encryption. The first failure short-circuits the
// rest.
func (g *Gate) Evaluate(ctx context.Context, profile TableProfile) (Decision, error) {
	hold, err := g.holds.LookupHold(ctx, profile.Database, profile.Schema, profile.Table)
	if err != nil {
		return Decision{}, fmt.Errorf("compliance: lookup hold for %s.%s.%s: %w", profile.Database, profile.Schema, profile.Table, err)
	}
	if hold != nil && hold.TableHold {
		return Decision{Allowed: false, Reason: "active legal hold on table"}, nil
	}

	bounds := g.bounds(profile.Classification)
	if profile.RetentionDays < bounds.MinDays || profile.RetentionDays > bounds.MaxDays {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("retention %d days outside configured bounds [%d, %d]", profile.RetentionDays, bounds.MinDays, bounds.MaxDays),
		}, nil
	}

	if g.requireEncryptionForCritical && profile.Critical && profile.SSEOption == "none" {
		return Decision{Allowed: false, Reason: "critical table requires server-side encryption"}, nil
	}

	return Decision{Allowed: true, RecordHold: hold}, nil
}
