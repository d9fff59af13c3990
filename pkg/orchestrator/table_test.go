package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labsbykora/audit-table-archiver/pkg/archiveerr"
	"github.com/labsbykora/audit-table-archiver/pkg/audit"
	"github.com/labsbykora/audit-table-archiver/pkg/compliance"
	"github.com/labsbykora/audit-table-archiver/pkg/orchestrator"
	"github.com/labsbykora/audit-table-archiver/pkg/pipeline"
	"github.com/labsbykora/audit-table-archiver/pkg/retry"
	"github.com/labsbykora/audit-table-archiver/pkg/sourcedb"
)

type fakePipeline struct {
	mu       sync.Mutex
	outcomes []pipeline.BatchOutcome
	errs     []error
	calls    int
	lastExtraWhere []string
}

func (f *fakePipeline) RunBatch(ctx context.Context, target pipeline.TableTarget, batchOrdinal, batchSize int, archiveTime time.Time) (pipeline.BatchOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastExtraWhere = append(f.lastExtraWhere, target.ExtraWhere)
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return pipeline.BatchOutcome{}, f.errs[idx]
	}
	if idx >= len(f.outcomes) {
		return pipeline.BatchOutcome{Ran: false}, nil
	}
	return f.outcomes[idx], nil
}

type fakeVacuumer struct {
	called bool
}

func (f *fakeVacuumer) Vacuum(ctx context.Context, schemaName, tableName string, strategy sourcedb.VacuumStrategy, timeout time.Duration) (sourcedb.VacuumResult, error) {
	f.called = true
	return sourcedb.VacuumResult{Strategy: strategy}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (e *recordingEmitter) Emit(ctx context.Context, event audit.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) kinds() []audit.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	kinds := make([]audit.Kind, len(e.events))
	for i, ev := range e.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func testRetryNoRetry() retry.Policy {
	return retry.Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 1, Classify: func(error) bool { return false }}
}

func testTarget() pipeline.TableTarget {
	return pipeline.TableTarget{Database: "orders_db", Schema: "public", Table: "audit_logs", PKColumns: []string{"id"}}
}

func TestTableOrchestratorRunsBatchesUntilDrained(t *testing.T) {
	p := &fakePipeline{outcomes: []pipeline.BatchOutcome{
		{Ran: true, RecordCount: 100, UncompressedBytes: 10000, FetchDuration: time.Second},
		{Ran: true, RecordCount: 50, UncompressedBytes: 5000, FetchDuration: time.Second},
	}}
	vac := &fakeVacuumer{}
	emitter := &recordingEmitter{}
	o := orchestrator.New(p, vac, emitter, nil, nil, testRetryNoRetry(), nil, nil, zap.NewNop())

	sizer := orchestrator.NewSizer(1000, 1000, 50000, 2*time.Second, 100*time.Millisecond, 0)
	result := o.Run(context.Background(), testTarget(), compliance.TableProfile{RetentionDays: 90}, sourcedb.VacuumAnalyze, sizer, orchestrator.Config{})

	require.NoError(t, result.Err)
	assert.True(t, result.Admitted)
	assert.Equal(t, 2, result.BatchesRun)
	assert.Equal(t, int64(150), result.RowsArchived)
	assert.True(t, vac.called)
	assert.Contains(t, emitter.kinds(), audit.KindArchiveStart)
	assert.Contains(t, emitter.kinds(), audit.KindArchiveSuccess)
}

func TestTableOrchestratorRefusedByComplianceGate(t *testing.T) {
	p := &fakePipeline{}
	emitter := &recordingEmitter{}
	gate := compliance.NewGate(staticHold{hold: &compliance.Hold{TableHold: true}}, func(string) compliance.RetentionBounds {
		return compliance.RetentionBounds{MinDays: 1, MaxDays: 10000}
	}, true)
	o := orchestrator.New(p, nil, emitter, nil, gate, testRetryNoRetry(), nil, nil, zap.NewNop())

	sizer := orchestrator.NewSizer(1000, 1000, 50000, 2*time.Second, 100*time.Millisecond, 0)
	result := o.Run(context.Background(), testTarget(), compliance.TableProfile{RetentionDays: 90}, sourcedb.VacuumNone, sizer, orchestrator.Config{})

	require.NoError(t, result.Err)
	assert.False(t, result.Admitted)
	assert.NotEmpty(t, result.RefusalReason)
	assert.Equal(t, 0, p.calls)
	assert.Contains(t, emitter.kinds(), audit.KindSkipLegalHold)
}

func TestTableOrchestratorAppliesRecordHoldExcludeClause(t *testing.T) {
	p := &fakePipeline{outcomes: []pipeline.BatchOutcome{{Ran: false}}}
	emitter := &recordingEmitter{}
	hold := &compliance.Hold{PKColumn: "id", PKValues: []interface{}{1, 2}}
	gate := compliance.NewGate(staticHold{hold: hold}, func(string) compliance.RetentionBounds {
		return compliance.RetentionBounds{MinDays: 1, MaxDays: 10000}
	}, true)
	o := orchestrator.New(p, nil, emitter, nil, gate, testRetryNoRetry(), nil, nil, zap.NewNop())

	sizer := orchestrator.NewSizer(1000, 1000, 50000, 2*time.Second, 100*time.Millisecond, 0)
	result := o.Run(context.Background(), testTarget(), compliance.TableProfile{RetentionDays: 90}, sourcedb.VacuumNone, sizer, orchestrator.Config{})

	require.NoError(t, result.Err)
	assert.True(t, result.Admitted)
	require.NotEmpty(t, p.lastExtraWhere)
	assert.Equal(t, `"id" NOT IN (1, 2)`, p.lastExtraWhere[0])
}

func TestTableOrchestratorPromotesFailureAndStops(t *testing.T) {
	p := &fakePipeline{errs: []error{archiveerr.Wrap(&archiveerr.BatchPermanent, archiveerr.Context{}, errors.New("checksum mismatch"))}}
	emitter := &recordingEmitter{}
	o := orchestrator.New(p, nil, emitter, nil, nil, testRetryNoRetry(), nil, nil, zap.NewNop())

	sizer := orchestrator.NewSizer(1000, 1000, 50000, 2*time.Second, 100*time.Millisecond, 0)
	result := o.Run(context.Background(), testTarget(), compliance.TableProfile{RetentionDays: 90}, sourcedb.VacuumNone, sizer, orchestrator.Config{})

	require.Error(t, result.Err)
	assert.True(t, archiveerr.TableErr.Has(result.Err))
	assert.Contains(t, emitter.kinds(), audit.KindArchiveFailure)
}

type staticHold struct {
	hold *compliance.Hold
}

func (s staticHold) LookupHold(ctx context.Context, database, schema, table string) (*compliance.Hold, error) {
	return s.hold, nil
}
