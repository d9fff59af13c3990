package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// computeFingerprint deterministically hashes a batch's planning
// inputs, so re-running a crashed batch with the same cursor produces
// the same fingerprint and object key, the idempotent-skip
// contract a resumed run depends on.
func computeFingerprint(t TableTarget, cutoff, loTS time.Time, loPK []interface{}, ordinal int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%v|%d",
		t.Database, t.Schema, t.Table,
		cutoff.UTC().Format(time.RFC3339Nano), loTS.UTC().Format(time.RFC3339Nano),
		loPK, ordinal)
	return hex.EncodeToString(h.Sum(nil))
}
