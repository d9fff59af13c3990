package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/labsbykora/audit-table-archiver/pkg/codec"
)

// CheckChecksum compares a checksum recomputed on restore or on
// scheduled re-validation against the value recorded in
// MetadataRecord at archive time.
func CheckChecksum(expected, actual string) error {
	if expected == "" {
		return fmt.Errorf("verify: no recorded checksum to compare against")
	}
	if expected != actual {
		return fmt.Errorf("verify: checksum mismatch: recorded %s, recomputed %s", expected, actual)
	}
	return nil
}

// ObjectGetter is the narrow read surface RevalidateObject needs;
// *objectstore.Client satisfies it.
type ObjectGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// metadataChecksum is the subset of a batch's MetadataRecord
// RevalidateObject needs; kept narrow so this package does not import
// pkg/pipeline.
type metadataChecksum struct {
	UncompressedSHA256 string `json:"uncompressed_sha256"`
}

// RevalidateObject re-fetches dataKey and its co-located
// MetadataRecord sidecar at metadataKey and confirms the data object's
// uncompressed content still hashes to the value recorded at archive
// time. cmd/archiver validate calls this on a schedule per table to
// catch silent bit rot or store-side corruption that a restore might
// not touch for months.
func RevalidateObject(ctx context.Context, objects ObjectGetter, dataKey, metadataKey string) error {
	metaData, err := objects.Get(ctx, metadataKey)
	if err != nil {
		return fmt.Errorf("verify: fetch metadata %s: %w", metadataKey, err)
	}
	var meta metadataChecksum
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return fmt.Errorf("verify: decode metadata %s: %w", metadataKey, err)
	}

	data, err := objects.Get(ctx, dataKey)
	if err != nil {
		return fmt.Errorf("verify: fetch object %s: %w", dataKey, err)
	}
	reader, err := codec.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("verify: open reader for %s: %w", dataKey, err)
	}
	for {
		var row codec.Row
		if err := reader.ReadRow(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("verify: decode %s: %w", dataKey, err)
		}
	}
	actual, err := reader.Close()
	if err != nil {
		return fmt.Errorf("verify: close reader for %s: %w", dataKey, err)
	}
	return CheckChecksum(meta.UncompressedSHA256, actual)
}
