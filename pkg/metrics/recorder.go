package metrics

import "time"

// Recorder implements the narrow MetricsRecorder shape
// pkg/orchestrator.TableOrchestrator reports batch outcomes through,
// backed by the package's Prometheus collectors.
type Recorder struct{}

// NewRecorder returns a Recorder. There is no state to construct: the
// underlying collectors are package-level and registered once in init.
func NewRecorder() Recorder {
	return Recorder{}
}

// ObserveBatch records one batch's outcome and fetch duration.
func (Recorder) ObserveBatch(database, table, outcome string, d time.Duration) {
	BatchesTotal.WithLabelValues(database, table, outcome).Inc()
	PhaseDuration.WithLabelValues(string(PhaseFetch)).Observe(d.Seconds())
	if outcome == "success" {
		LastSuccessEpoch.WithLabelValues(database, table).Set(float64(time.Now().Unix()))
	} else if outcome != "skipped" {
		ErrorsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncRows adds n to the rows-archived counter for database.table.
func (Recorder) IncRows(database, table string, n int64) {
	RowsArchivedTotal.WithLabelValues(database, table).Add(float64(n))
}

// RecordBatchSizeClamped increments the clamp counter for database.table.
func (Recorder) RecordBatchSizeClamped(database, table string) {
	BatchSizeClampedTotal.WithLabelValues(database, table).Inc()
}

// ObservePhase records d against phase's histogram, for phases other
// than fetch (which ObserveBatch already covers from the batch
// outcome) — serialize, compress, upload, verify, delete, commit,
// vacuum.
func ObservePhase(phase Phase, d time.Duration) {
	PhaseDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
}

// SetPipelineState flips state to active for database.table and
// clears every other known state, so exactly one state gauge reads 1
// at a time per table.
func SetPipelineState(database, table string, state string, allStates []string) {
	for _, s := range allStates {
		if s == state {
			PipelineState.WithLabelValues(database, table, s).Set(1)
		} else {
			PipelineState.WithLabelValues(database, table, s).Set(0)
		}
	}
}

// RecordRestoreOutcome increments the restore counter for database.table by n under outcome.
func RecordRestoreOutcome(database, table, outcome string, n int64) {
	RestoreRecordsTotal.WithLabelValues(database, table, outcome).Add(float64(n))
}
