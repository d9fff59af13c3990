package pipeline

import (
	"fmt"
	"time"
)

const batchTimeLayout = "20060102T150405Z"

func datePartition(prefix string, t TableTarget, archiveTime time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s/year=%04d/month=%02d/day=%02d",
		prefix, t.Database, t.Schema, t.Table, archiveTime.Year(), archiveTime.Month(), archiveTime.Day())
}

func batchBaseName(t TableTarget, archiveTime time.Time, ordinal int) string {
	return fmt.Sprintf("%s_%s_batch_%03d", t.Table, archiveTime.UTC().Format(batchTimeLayout), ordinal)
}

// dataObjectKey is the canonical key for a batch's compressed NDJSON
// data object.
func dataObjectKey(prefix string, t TableTarget, archiveTime time.Time, ordinal int) string {
	return fmt.Sprintf("%s/%s.jsonl.gz", datePartition(prefix, t, archiveTime), batchBaseName(t, archiveTime, ordinal))
}

// metadataObjectKey is the canonical key for a batch's MetadataRecord
// sidecar.
func metadataObjectKey(prefix string, t TableTarget, archiveTime time.Time, ordinal int) string {
	return fmt.Sprintf("%s/%s_metadata.json", datePartition(prefix, t, archiveTime), batchBaseName(t, archiveTime, ordinal))
}

// deletionManifestObjectKey is the canonical key for a batch's
// DeletionManifest sidecar.
func deletionManifestObjectKey(prefix string, t TableTarget, archiveTime time.Time, ordinal int) string {
	return fmt.Sprintf("%s/%s_manifest.json", datePartition(prefix, t, archiveTime), batchBaseName(t, archiveTime, ordinal))
}

// tableManifestObjectKey is the canonical key for the table's
// append-only TableManifest (distinct from any one batch's deletion
// manifest).
func tableManifestObjectKey(prefix string, t TableTarget) string {
	return fmt.Sprintf("%s/%s/%s/%s/_manifest.json", prefix, t.Database, t.Schema, t.Table)
}
