package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/labsbykora/audit-table-archiver/pkg/metrics"
)

func TestRecorderObserveBatchIncrementsCounters(t *testing.T) {
	r := metrics.NewRecorder()
	r.ObserveBatch("orders_db", "audit_logs", "success", 2*time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BatchesTotal.WithLabelValues("orders_db", "audit_logs", "success")))
}

func TestRecorderIncRowsAddsToCounter(t *testing.T) {
	r := metrics.NewRecorder()
	r.IncRows("orders_db", "audit_logs", 42)

	assert.Equal(t, float64(42), testutil.ToFloat64(metrics.RowsArchivedTotal.WithLabelValues("orders_db", "audit_logs")))
}

func TestRecorderBatchSizeClampedIncrementsCounter(t *testing.T) {
	r := metrics.NewRecorder()
	r.RecordBatchSizeClamped("orders_db", "audit_logs")

	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.BatchSizeClampedTotal.WithLabelValues("orders_db", "audit_logs")), float64(1))
}
