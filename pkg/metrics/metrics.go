// Package metrics exposes the archiver's Prometheus instrumentation
// and /health aggregation: counters for
// batches/rows/bytes by outcome, histograms for the Batch Pipeline's
// named phases, and gauges for current pipeline state and last-success
// epoch.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Phase names the Batch Pipeline phases ObservePhase records durations
// against. Fetch, serialize, upload, verify, delete and commit
// correspond to pkg/pipeline's Fetching through Committing states;
// compress and vacuum have no State of their own.
type Phase string

const (
	PhaseFetch      Phase = "fetch"
	PhaseSerialize  Phase = "serialize"
	PhaseCompress   Phase = "compress"
	PhaseUpload     Phase = "upload"
	PhaseVerify     Phase = "verify"
	PhaseDelete     Phase = "delete"
	PhaseCommit     Phase = "commit"
	PhaseVacuum     Phase = "vacuum"
)

var (
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_batches_total",
			Help: "Batches processed, by database, table, and outcome (success/skipped/error).",
		},
		[]string{"database", "table", "outcome"},
	)

	RowsArchivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_rows_archived_total",
			Help: "Rows archived, by database and table.",
		},
		[]string{"database", "table"},
	)

	BytesUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_bytes_uploaded_total",
			Help: "Compressed bytes uploaded to object storage, by database and table.",
		},
		[]string{"database", "table"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_errors_total",
			Help: "Errors encountered, by archiveerr class.",
		},
		[]string{"class"},
	)

	BatchSizeClampedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_batch_size_clamped_total",
			Help: "Times the adaptive batch sizer hit its configured min/max bound.",
		},
		[]string{"database", "table"},
	)

	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archiver_phase_duration_seconds",
			Help:    "Duration of one Batch Pipeline phase.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"phase"},
	)

	PipelineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "archiver_pipeline_state",
			Help: "1 if the table's Batch Pipeline is currently in the named state, 0 otherwise.",
		},
		[]string{"database", "table", "state"},
	)

	LastSuccessEpoch = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "archiver_last_success_epoch_seconds",
			Help: "Unix epoch of the last successful archive run, by database and table.",
		},
		[]string{"database", "table"},
	)

	RestoreRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_restore_records_total",
			Help: "Records restored, by database, table, and outcome (restored/skipped/failed).",
		},
		[]string{"database", "table", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		BatchesTotal,
		RowsArchivedTotal,
		BytesUploadedTotal,
		ErrorsTotal,
		BatchSizeClampedTotal,
		PhaseDuration,
		PipelineState,
		LastSuccessEpoch,
		RestoreRecordsTotal,
	)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
