// Package verify implements the Verifier: the three-way
// row-count check, checksum verification, primary-key set equality,
// and the post-commit sample-absence check.
package verify

import "fmt"

// Counts is the three independent counts the Batch Pipeline must
// reconcile before it is allowed to delete anything.
type Counts struct {
	NDB     int // SELECT COUNT(*) taken inside the batch transaction
	NStream int // incremented as the serializer emits records
	NObject int // the serializer's own final record count
}

// CheckCounts returns an error unless all three counts are equal.
// Any inequality means the batch must abort with rollback and no
// delete.
func CheckCounts(c Counts) error {
	if c.NDB != c.NStream || c.NStream != c.NObject {
		return fmt.Errorf("verify: count mismatch n_db=%d n_stream=%d n_object=%d", c.NDB, c.NStream, c.NObject)
	}
	return nil
}
