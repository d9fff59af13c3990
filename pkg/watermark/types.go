// Package watermark implements the Watermark & Checkpoint Store:
// the per-table resume position, updated by conditional write
// after a batch commits, and a periodic checkpoint a crashed run
// resumes from.
package watermark

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Watermark is the current resume position for one table: the
// (max_ts, max_pk) cursor the next batch fetches after, and the
// running row count archived so far.
type Watermark struct {
	Database       string        `json:"database"`
	Schema         string        `json:"schema"`
	Table          string        `json:"table"`
	MaxTS          time.Time     `json:"max_ts"`
	MaxPK          []interface{} `json:"max_pk"`
	CumulativeRows int64         `json:"cumulative_rows"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Checkpoint is the periodic snapshot (default: every 10 batches)
// a crashed run resumes from: the watermark, the fingerprints already
// committed this run (for the Batch Pipeline's idempotent-skip check),
// and any multipart upload left open mid-batch.
type Checkpoint struct {
	Watermark             Watermark       `json:"watermark"`
	CommittedFingerprints []string        `json:"committed_fingerprints"`
	OpenMultipart         json.RawMessage `json:"open_multipart,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

// envelope wraps a stored payload with a content hash, checked at
// load time so a truncated or corrupted write is caught rather than
// silently trusted.
type envelope struct {
	Payload json.RawMessage `json:"payload"`
	SHA256  string          `json:"sha256"`
}

func wrap(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("watermark: encode: %w", err)
	}
	sum := sha256.Sum256(payload)
	return json.Marshal(envelope{Payload: payload, SHA256: hex.EncodeToString(sum[:])})
}

func unwrap(data []byte, v interface{}) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("watermark: decode envelope: %w", err)
	}
	sum := sha256.Sum256(env.Payload)
	if hex.EncodeToString(sum[:]) != env.SHA256 {
		return fmt.Errorf("watermark: content hash mismatch, stored value is corrupt")
	}
	return json.Unmarshal(env.Payload, v)
}
