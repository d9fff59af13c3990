// Package orchestrator implements the Table Orchestrator
// and the Run Orchestrator: the batch-driving loop for
// one table, and the bounded-parallel iteration across databases and
// their tables that calls it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/labsbykora/audit-table-archiver/pkg/archiveerr"
	"github.com/labsbykora/audit-table-archiver/pkg/audit"
	"github.com/labsbykora/audit-table-archiver/pkg/compliance"
	"github.com/labsbykora/audit-table-archiver/pkg/lockmanager"
	"github.com/labsbykora/audit-table-archiver/pkg/pipeline"
	"github.com/labsbykora/audit-table-archiver/pkg/retry"
	"github.com/labsbykora/audit-table-archiver/pkg/sourcedb"
	"github.com/labsbykora/audit-table-archiver/pkg/watermark"
)

// defaultCheckpointInterval matches the Watermark & Checkpoint Store's
// default cadence: one checkpoint every 10 committed batches.
const defaultCheckpointInterval = 10

// batchPipeline is the subset of *pipeline.Pipeline the orchestrator
// drives.
type batchPipeline interface {
	RunBatch(ctx context.Context, target pipeline.TableTarget, batchOrdinal, batchSize int, archiveTime time.Time) (pipeline.BatchOutcome, error)
}

// vacuumer is the subset of *sourcedb.Database the orchestrator
// invokes after a table drains.
type vacuumer interface {
	Vacuum(ctx context.Context, schemaName, tableName string, strategy sourcedb.VacuumStrategy, timeout time.Duration) (sourcedb.VacuumResult, error)
}

// auditEmitter is the subset of *audit.Emitter the orchestrator
// drives.
type auditEmitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// MetricsRecorder is the narrow surface the Table Orchestrator reports
// phase/outcome metrics through; pkg/metrics implements it, and
// NopMetricsRecorder is the zero-value default for tests and callers
// that have not wired metrics in yet.
type MetricsRecorder interface {
	ObserveBatch(database, table, outcome string, d time.Duration)
	IncRows(database, table string, n int64)
	RecordBatchSizeClamped(database, table string)
}

// NopMetricsRecorder discards everything.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) ObserveBatch(string, string, string, time.Duration) {}
func (NopMetricsRecorder) IncRows(string, string, int64)                      {}
func (NopMetricsRecorder) RecordBatchSizeClamped(string, string)              {}

// TableOrchestrator drives one table's batch loop end to end: admission
// (compliance gate, per-table lock), batches until drained or a
// per-run batch cap, then vacuum.
type TableOrchestrator struct {
	pipeline batchPipeline
	vacuum   vacuumer
	emitter  auditEmitter
	locks    *lockmanager.Manager
	gate     *compliance.Gate
	retry    retry.Policy
	metrics  MetricsRecorder
	wm       watermark.Store
	log      *zap.Logger
	now      func() time.Time
}

// Config tunes one TableOrchestrator.
type Config struct {
	MaxBatchesPerRun      int // 0 = unlimited
	BatchWallClockTimeout time.Duration
	TableLockTTL          time.Duration
	VacuumTimeout         time.Duration
	CheckpointInterval    int // batches between checkpoint saves; 0 uses defaultCheckpointInterval
}

// New constructs a TableOrchestrator. gate and locks may be nil: a nil
// gate admits every table unconditionally, a nil locks manager skips
// per-table locking (single-process deployments with no concurrent
// archiver instances). wm may be nil, which disables checkpoint
// saving entirely; the table still resumes correctly from its
// watermark alone, just without the committed-fingerprint and
// open-multipart fast path a checkpoint provides.
func New(p batchPipeline, vacuum vacuumer, emitter auditEmitter, locks *lockmanager.Manager, gate *compliance.Gate, retryPolicy retry.Policy, metrics MetricsRecorder, wm watermark.Store, log *zap.Logger) *TableOrchestrator {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &TableOrchestrator{
		pipeline: p, vacuum: vacuum, emitter: emitter, locks: locks, gate: gate,
		retry: retryPolicy, metrics: metrics, wm: wm, log: log.Named("orchestrator"), now: time.Now,
	}
}

// Result reports one table run's outcome.
type Result struct {
	Database       string
	Schema         string
	Table          string
	BatchesRun     int
	BatchesSkipped int
	RowsArchived   int64
	Vacuum         sourcedb.VacuumResult
	Admitted       bool   // false if the compliance gate refused the table
	RefusalReason  string
	Err            error
}

// Run drives target's batch loop to completion: compliance admission,
// per-table lock acquisition, then batches until drained, the
// configured max-batches-per-run, or a non-retryable failure.
// vacuumStrategy selects the post-drain maintenance statement;
// pass sourcedb.VacuumNone to skip it.
func (o *TableOrchestrator) Run(ctx context.Context, target pipeline.TableTarget, profile compliance.TableProfile, vacuumStrategy sourcedb.VacuumStrategy, sizer *Sizer, cfg Config) Result {
	result := Result{Database: target.Database, Schema: target.Schema, Table: target.Table}

	if o.gate != nil {
		decision, err := o.gate.Evaluate(ctx, profile)
		if err != nil {
			result.Err = archiveerr.Wrap(&archiveerr.TableErr, o.errCtx(target, 0, ""), err)
			return result
		}
		if !decision.Allowed {
			result.Admitted = false
			result.RefusalReason = decision.Reason
			_ = o.emitter.Emit(ctx, audit.Event{
				Kind: audit.KindSkipLegalHold, Database: target.Database, Schema: target.Schema, Table: target.Table,
				Status: "skipped", Detail: decision.Reason,
			})
			return result
		}
		if decision.RecordHold != nil {
			target.ExtraWhere = decision.RecordHold.ExcludeClause()
		}
	}
	result.Admitted = true

	var lease *lockmanager.Lease
	if o.locks != nil {
		l, err := o.locks.Acquire(ctx, tableLockName(target), cfg.TableLockTTL)
		if err != nil {
			result.Err = archiveerr.Wrap(&archiveerr.TableErr, o.errCtx(target, 0, ""), fmt.Errorf("acquire table lock: %w", err))
			return result
		}
		lease = l
		defer func() { _ = o.locks.Release(context.Background(), lease) }()
	}

	_ = o.emitter.Emit(ctx, audit.Event{Kind: audit.KindArchiveStart, Database: target.Database, Schema: target.Schema, Table: target.Table, Status: "started"})

	var committed []string
	if o.wm != nil {
		if cp, err := o.wm.LoadCheckpoint(ctx, target.Database, target.Schema, target.Table); err != nil {
			o.log.Warn("load checkpoint failed", zap.String("database", target.Database), zap.String("table", target.Table), zap.Error(err))
		} else if cp != nil {
			committed = cp.CommittedFingerprints
			o.log.Info("resuming from checkpoint",
				zap.String("database", target.Database), zap.String("table", target.Table),
				zap.Int("committed_fingerprints", len(committed)), zap.Time("checkpoint_created_at", cp.CreatedAt))
		}
	}
	checkpointInterval := cfg.CheckpointInterval
	if checkpointInterval <= 0 {
		checkpointInterval = defaultCheckpointInterval
	}

	for ordinal := 0; ; ordinal++ {
		if cfg.MaxBatchesPerRun > 0 && ordinal >= cfg.MaxBatchesPerRun {
			break
		}
		if lease != nil {
			select {
			case <-lease.Lost():
				result.Err = archiveerr.Wrap(&archiveerr.TableErr, o.errCtx(target, ordinal, ""), errors.New("table lock lost"))
				return result
			default:
			}
		}

		outcome, err := o.runBatchWithRetry(ctx, target, ordinal, sizer.Size(), cfg.BatchWallClockTimeout)
		if err != nil {
			result.Err = archiveerr.Promote(o.errCtx(target, ordinal, ""), err)
			_ = o.emitter.Emit(ctx, audit.Event{
				Kind: audit.KindArchiveFailure, Database: target.Database, Schema: target.Schema, Table: target.Table,
				Status: "failed", ErrorSummary: err.Error(),
			})
			return result
		}
		if !outcome.Ran {
			break
		}
		if outcome.Skipped {
			result.BatchesSkipped++
			continue
		}

		result.BatchesRun++
		result.RowsArchived += int64(outcome.RecordCount)
		o.metrics.ObserveBatch(target.Database, target.Table, "success", outcome.FetchDuration)
		o.metrics.IncRows(target.Database, target.Table, int64(outcome.RecordCount))

		committed = append(committed, outcome.Fingerprint)
		if o.wm != nil && result.BatchesRun%checkpointInterval == 0 {
			if err := o.saveCheckpoint(ctx, target, committed); err != nil {
				o.log.Warn("save checkpoint failed", zap.String("database", target.Database), zap.String("table", target.Table), zap.Error(err))
			}
		}

		var avgRowBytes int64
		if outcome.RecordCount > 0 {
			avgRowBytes = outcome.UncompressedBytes / int64(outcome.RecordCount)
		}
		sizer.Observe(outcome.FetchDuration, avgRowBytes)
		if sizer.Clamped() {
			o.metrics.RecordBatchSizeClamped(target.Database, target.Table)
		}
	}

	if o.wm != nil {
		if err := o.wm.ClearCheckpoint(ctx, target.Database, target.Schema, target.Table); err != nil {
			o.log.Warn("clear checkpoint failed", zap.String("database", target.Database), zap.String("table", target.Table), zap.Error(err))
		}
	}

	if o.vacuum != nil {
		vres, err := o.vacuum.Vacuum(ctx, target.Schema, target.Table, vacuumStrategy, cfg.VacuumTimeout)
		if err != nil {
			o.log.Warn("vacuum failed", zap.String("database", target.Database), zap.String("table", target.Table), zap.Error(err))
		} else {
			result.Vacuum = vres
		}
	}

	_ = o.emitter.Emit(ctx, audit.Event{
		Kind: audit.KindArchiveSuccess, Database: target.Database, Schema: target.Schema, Table: target.Table,
		RowCount: result.RowsArchived, Status: "success",
	})
	return result
}

func (o *TableOrchestrator) runBatchWithRetry(ctx context.Context, target pipeline.TableTarget, ordinal, batchSize int, wallClockTimeout time.Duration) (pipeline.BatchOutcome, error) {
	var outcome pipeline.BatchOutcome
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		batchCtx := ctx
		var cancel context.CancelFunc
		if wallClockTimeout > 0 {
			batchCtx, cancel = context.WithTimeout(ctx, wallClockTimeout)
			defer cancel()
		}
		var err error
		outcome, err = o.pipeline.RunBatch(batchCtx, target, ordinal, batchSize, o.now())
		return err
	})
	return outcome, err
}

// saveCheckpoint snapshots the table's current watermark plus the
// fingerprints committed so far this run. It preserves whatever
// open-multipart marker the Batch Pipeline left on the existing
// checkpoint; the orchestrator only owns the watermark/fingerprint
// half of the record.
func (o *TableOrchestrator) saveCheckpoint(ctx context.Context, target pipeline.TableTarget, committed []string) error {
	wm, err := o.wm.LoadWatermark(ctx, target.Database, target.Schema, target.Table)
	if err != nil {
		return err
	}
	cp, err := o.wm.LoadCheckpoint(ctx, target.Database, target.Schema, target.Table)
	if err != nil {
		return err
	}
	next := &watermark.Checkpoint{CommittedFingerprints: committed, CreatedAt: time.Now().UTC()}
	if wm != nil {
		next.Watermark = *wm
	} else {
		next.Watermark = watermark.Watermark{Database: target.Database, Schema: target.Schema, Table: target.Table}
	}
	if cp != nil {
		next.OpenMultipart = cp.OpenMultipart
	}
	return o.wm.SaveCheckpoint(ctx, next)
}

func (o *TableOrchestrator) errCtx(target pipeline.TableTarget, ordinal int, phase string) archiveerr.Context {
	return archiveerr.Context{Database: target.Database, Schema: target.Schema, Table: target.Table, BatchOrdinal: ordinal, Phase: phase}
}

func tableLockName(target pipeline.TableTarget) string {
	return fmt.Sprintf("table:%s.%s.%s", target.Database, target.Schema, target.Table)
}
