// Package audit implements the append-only AuditEvent trail fed by
// every component: the Compliance Gate's hold/skip decisions, the
// Batch Pipeline's per-batch outcomes, and the orchestrators' run
// start/finish/failure markers.
package audit

import "time"

// Kind enumerates the event kinds the audit trail records.
type Kind string

const (
	KindArchiveStart        Kind = "ARCHIVE_START"
	KindArchiveBatchSuccess Kind = "ARCHIVE_BATCH_SUCCESS"
	KindArchiveSuccess      Kind = "ARCHIVE_SUCCESS"
	KindArchiveFailure      Kind = "ARCHIVE_FAILURE"
	KindSkipLegalHold       Kind = "SKIP_LEGAL_HOLD"
	KindRestoreStart        Kind = "RESTORE_START"
	KindRestoreSuccess      Kind = "RESTORE_SUCCESS"
	KindRestoreFailure      Kind = "RESTORE_FAILURE"
	KindSampleAbsenceHit    Kind = "SAMPLE_ABSENCE_HIT"
	KindError               Kind = "ERROR"
)

// Event is one immutable append-only record. It is never modified
// once emitted; a correction is a new Event, not an update.
type Event struct {
	Timestamp    time.Time     `json:"timestamp"`
	Actor        string        `json:"actor"`
	Kind         Kind          `json:"kind"`
	Database     string        `json:"database"`
	Schema       string        `json:"schema,omitempty"`
	Table        string        `json:"table,omitempty"`
	RowCount     int64         `json:"row_count,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Status       string        `json:"status"`
	ErrorSummary string        `json:"error_summary,omitempty"`
	Detail       string        `json:"detail,omitempty"`
}
