package sourcedb

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// VacuumStrategy selects the post-table maintenance invoked after a
// table drains.
type VacuumStrategy string

const (
	VacuumNone     VacuumStrategy = "none"
	VacuumAnalyze  VacuumStrategy = "analyze"
	VacuumStandard VacuumStrategy = "standard"
	VacuumFull     VacuumStrategy = "full"
)

// VacuumResult reports what Vacuum did, for the audit trail and
// metrics; an ineffective vacuum is logged, not treated as failure.
type VacuumResult struct {
	Strategy         VacuumStrategy
	Duration         time.Duration
	ReclaimedBefore  int64
	ReclaimedAfter   int64
	Effective        bool
}

// effectiveThreshold is the minimum fraction of dead tuples
// (pg_stat_user_tables.n_dead_tup) a vacuum must reclaim to count as
// effective.
const effectiveThreshold = 0.05

// Vacuum runs strategy against schemaName.tableName, bounded by
// timeout. VacuumNone is a no-op.
func (d *Database) Vacuum(ctx context.Context, schemaName, tableName string, strategy VacuumStrategy, timeout time.Duration) (VacuumResult, error) {
	if strategy == VacuumNone {
		return VacuumResult{Strategy: VacuumNone}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	before, err := d.deadTupleBytes(ctx, schemaName, tableName)
	if err != nil {
		d.log.Warn("vacuum: could not read dead tuple estimate before", zap.Error(err))
	}

	start := time.Now()
	stmt := vacuumStatement(strategy, schemaName, tableName)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return VacuumResult{}, fmt.Errorf("sourcedb: vacuum %s.%s: %w", schemaName, tableName, err)
	}
	duration := time.Since(start)

	after, err := d.deadTupleBytes(ctx, schemaName, tableName)
	if err != nil {
		d.log.Warn("vacuum: could not read dead tuple estimate after", zap.Error(err))
	}

	effective := true
	if before > 0 {
		reclaimed := float64(before-after) / float64(before)
		effective = reclaimed >= effectiveThreshold
	}
	if !effective {
		d.log.Warn("vacuum reclaimed less than the effectiveness threshold",
			zap.String("schema", schemaName), zap.String("table", tableName),
			zap.Int64("dead_tuples_before", before), zap.Int64("dead_tuples_after", after))
	}

	return VacuumResult{
		Strategy:        strategy,
		Duration:        duration,
		ReclaimedBefore: before,
		ReclaimedAfter:  after,
		Effective:       effective,
	}, nil
}

func vacuumStatement(strategy VacuumStrategy, schemaName, tableName string) string {
	qualified := pgQualify(schemaName, tableName)
	switch strategy {
	case VacuumAnalyze:
		return "ANALYZE " + qualified
	case VacuumFull:
		return "VACUUM (FULL, ANALYZE) " + qualified
	default: // VacuumStandard
		return "VACUUM (ANALYZE) " + qualified
	}
}

func (d *Database) deadTupleBytes(ctx context.Context, schemaName, tableName string) (int64, error) {
	var deadTuples int64
	err := d.db.QueryRowContext(ctx, `
		SELECT COALESCE(n_dead_tup, 0) FROM pg_stat_user_tables
		WHERE schemaname = $1 AND relname = $2
	`, schemaName, tableName).Scan(&deadTuples)
	return deadTuples, err
}
