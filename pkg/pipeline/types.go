// Package pipeline implements the Batch Pipeline: the single-threaded
// per-table state machine that fetches one batch under row locks,
// serializes and uploads it, verifies the upload, deletes the
// archived rows inside the same transaction, and advances the
// table's watermark.
package pipeline

import "time"

// State names the Batch Pipeline's position for logging, metrics, and
// /health reporting. It is not used for control flow — RunBatch drives
// the transitions internally and returns the terminal outcome.
type State string

const (
	StateIdle        State = "Idle"
	StatePlanning    State = "Planning"
	StateFetching    State = "Fetching"
	StateSerializing State = "Serializing"
	StateUploading   State = "Uploading"
	StateVerifying   State = "Verifying"
	StateDeleting    State = "Deleting"
	StateCommitting  State = "Committing"
	StateAdvancing   State = "Advancing"
	StateAborting    State = "Aborting"
	StateDrained     State = "Drained"
)

// TableTarget names one table to archive and the columns the pipeline
// needs to plan, fetch, and delete batches against it.
type TableTarget struct {
	Database        string
	Schema           string
	Table            string
	Columns          []string
	// ColumnTypes maps each of Columns to its introspected Postgres
	// data_type, threaded down into sourcedb.BatchSpec so scanBatch can
	// apply the per-type encoding rules codec.Row's wrapper types
	// implement. A table with no entry for a column falls back to the
	// driver's raw scanned value.
	ColumnTypes      map[string]string
	TSColumn         string
	PKColumns        []string
	Cutoff           time.Time
	Critical         bool
	StorageClass     string
	SSEOption        string
	ArchiverVersion  string
	ExtraWhere       string // e.g. a record-level legal-hold exclusion, set by the caller
}

// BatchPlan is the Planning step's output: the inputs that
// deterministically produce one batch's fingerprint and object key.
type BatchPlan struct {
	Target       TableTarget
	LoTS         time.Time
	LoPK         []interface{}
	Limit        int
	BatchOrdinal int
	Fingerprint  string
	ArchiveTime  time.Time // UTC wall-clock time this batch started, stamped into its object key
}

// BatchArtifact is the uploaded representation of one batch.
type BatchArtifact struct {
	ObjectKey          string
	UncompressedBytes  int64
	CompressedBytes    int64
	UncompressedSHA256 string
	CompressedSHA256   string
	RecordCount        int
	MinTS              time.Time
	MaxTS              time.Time
	MinPK              []interface{}
	MaxPK              []interface{}
}

// MetadataRecord is the sidecar JSON co-located with a data object.
type MetadataRecord struct {
	SchemaVersion      int       `json:"schema_version"`
	Database           string    `json:"database"`
	Schema             string    `json:"schema"`
	Table              string    `json:"table"`
	BatchOrdinal       int       `json:"batch_ordinal"`
	BatchFingerprint   string    `json:"batch_fingerprint"`
	ArchiveTime        time.Time `json:"archive_time"`
	MinRowTS           time.Time `json:"min_row_ts"`
	MaxRowTS           time.Time `json:"max_row_ts"`
	RecordCount        int       `json:"record_count"`
	UncompressedBytes  int64     `json:"uncompressed_bytes"`
	CompressedBytes    int64     `json:"compressed_bytes"`
	UncompressedSHA256 string    `json:"uncompressed_sha256"`
	CompressionAlgo    string    `json:"compression_algorithm"`
	CompressionLevel   int       `json:"compression_level"`
	Columns            []string  `json:"columns"`
	PrimaryKeyColumns  []string  `json:"primary_key_columns"`
	ArchiverVersion    string    `json:"archiver_version"`
	ManifestPath       string    `json:"manifest_path"`
}

// TableManifest is the per-table append-only index of committed batch
// fingerprints. Presence of a fingerprint means that batch is
// committed; a fingerprint never appears more than once.
type TableManifest struct {
	Fingerprints []string `json:"fingerprints"`
}

// Contains reports whether fingerprint already committed.
func (m TableManifest) Contains(fingerprint string) bool {
	for _, f := range m.Fingerprints {
		if f == fingerprint {
			return true
		}
	}
	return false
}

// BatchOutcome is RunBatch's result for one batch.
type BatchOutcome struct {
	Ran          bool // false means the table is drained: no rows matched the plan
	Skipped      bool // true means the fingerprint was already committed (idempotent replay)
	BatchOrdinal int
	Fingerprint  string
	RecordCount  int
	UncompressedBytes int64
	CompressedBytes   int64
	FetchDuration time.Duration
	MaxTS        time.Time
	MaxPK        []interface{}
}
