package verify

import (
	"context"
	"fmt"
	"math/rand"
)

// SampleSize returns the sample size for a deletion manifest
// of batchLen primary keys: min(1000, max(10, 1% of batch)).
func SampleSize(batchLen int) int {
	onePercent := batchLen / 100
	size := onePercent
	if size < 10 {
		size = 10
	}
	if size > 1000 {
		size = 1000
	}
	if size > batchLen {
		size = batchLen
	}
	return size
}

// SamplePrimaryKeys randomly chooses SampleSize(len(pks)) keys from
// pks using rnd (pass a seeded *rand.Rand for determinism in tests).
func SamplePrimaryKeys(rnd *rand.Rand, pks [][]interface{}) [][]interface{} {
	n := SampleSize(len(pks))
	if n >= len(pks) {
		return pks
	}
	indexes := rnd.Perm(len(pks))[:n]
	sample := make([][]interface{}, n)
	for i, idx := range indexes {
		sample[i] = pks[idx]
	}
	return sample
}

// ExistenceChecker reports whether any of the given primary keys are
// still present in the source table.
type ExistenceChecker interface {
	AnyExist(ctx context.Context, pks [][]interface{}) (bool, error)
}

// TableExistenceChecker adapts a Source-DB Adapter's per-database,
// per-table AnyExist method (which also needs schema/table/column
// names) to the fixed-shape ExistenceChecker interface this package
// wants to depend on.
type TableExistenceChecker struct {
	DB         tableExister
	Schema     string
	Table      string
	PKColumns  []string
}

type tableExister interface {
	AnyExist(ctx context.Context, schemaName, tableName string, pkColumns []string, pks [][]interface{}) (bool, error)
}

// AnyExist implements ExistenceChecker.
func (c TableExistenceChecker) AnyExist(ctx context.Context, pks [][]interface{}) (bool, error) {
	return c.DB.AnyExist(ctx, c.Schema, c.Table, c.PKColumns, pks)
}

// CheckSampleAbsence runs the post-commit sample-absence check: a hit
// (any sampled key still present in the source) is a critical alert,
// since it means a row survived a commit that claimed to delete it.
func CheckSampleAbsence(ctx context.Context, checker ExistenceChecker, sample [][]interface{}) error {
	if len(sample) == 0 {
		return nil
	}
	found, err := checker.AnyExist(ctx, sample)
	if err != nil {
		return fmt.Errorf("verify: sample absence check: %w", err)
	}
	if found {
		return fmt.Errorf("verify: sample absence check found a deleted primary key still present in the source")
	}
	return nil
}
