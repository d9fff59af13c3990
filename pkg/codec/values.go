// Package codec implements the row serialization format shared by the
// archive and restore paths: one
// newline-delimited JSON record per row, gzip-compressed, with fixed
// per-type encoding rules so two implementations of this format
// produce byte-identical records for the same input.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Reserved record field names. The serializer inserts these itself;
// they must never come from the source query.
const (
	FieldArchivedAt       = "_archived_at"
	FieldBatchFingerprint = "_batch_fingerprint"
	FieldSourceDatabase   = "_source_database"
	FieldSourceTable      = "_source_table"
)

// Decimal carries a numeric/decimal column's text representation
// exactly as the driver returned it. It marshals as a JSON string
// (not a JSON number) so no digit is ever lost to float64 rounding.
type Decimal string

// Binary wraps a blob column. It marshals as a base64 string prefixed
// with BinarySentinel, distinguishing it from a native text value on
// decode.
type Binary []byte

// BinarySentinel prefixes every base64-encoded Binary value.
const BinarySentinel = "!!binary:"

// MarshalJSON implements json.Marshaler.
func (b Binary) MarshalJSON() ([]byte, error) {
	return json.Marshal(BinarySentinel + base64.StdEncoding.EncodeToString(b))
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Binary) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	rest, ok := strings.CutPrefix(s, BinarySentinel)
	if !ok {
		return fmt.Errorf("codec: binary value missing %q sentinel", BinarySentinel)
	}
	decoded, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// Timestamp wraps a timestamp column. Naive records that the column
// had no timezone attached at the source: the value is normalized to
// UTC and rendered with a Z suffix. A timezone-aware value keeps its
// original offset.
type Timestamp struct {
	Time  time.Time
	Naive bool
}

// MarshalJSON implements json.Marshaler, emitting ISO-8601 with an
// explicit offset (or Z for UTC/naive values).
func (t Timestamp) MarshalJSON() ([]byte, error) {
	ts := t.Time
	if t.Naive {
		ts = ts.UTC()
	}
	return json.Marshal(ts.Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	t.Naive = parsed.Location() == time.UTC
	return nil
}

// Range represents a Postgres-style range column as a fixed-shape
// object: bounds plus their inclusivity.
type Range struct {
	Lower          interface{} `json:"lower"`
	Upper          interface{} `json:"upper"`
	LowerInclusive bool        `json:"lower_inclusive"`
	UpperInclusive bool        `json:"upper_inclusive"`
}

// Composite represents a composite-type column as a fixed-shape
// object keyed by its member field names.
type Composite map[string]interface{}
