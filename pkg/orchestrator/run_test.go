package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/labsbykora/audit-table-archiver/pkg/compliance"
	"github.com/labsbykora/audit-table-archiver/pkg/orchestrator"
	"github.com/labsbykora/audit-table-archiver/pkg/pipeline"
	"github.com/labsbykora/audit-table-archiver/pkg/sourcedb"
)

func TestRunOrchestratorIsolatesPerDatabaseFailures(t *testing.T) {
	goodPipeline := &fakePipeline{outcomes: []pipeline.BatchOutcome{{Ran: true, RecordCount: 10, FetchDuration: time.Second}}}
	badPipeline := &fakePipeline{errs: []error{assertErr{}}}

	goodOrch := orchestrator.New(goodPipeline, nil, &recordingEmitter{}, nil, nil, testRetryNoRetry(), nil, nil, zap.NewNop())
	badOrch := orchestrator.New(badPipeline, nil, &recordingEmitter{}, nil, nil, testRetryNoRetry(), nil, nil, zap.NewNop())

	databases := []orchestrator.DatabaseRun{
		{
			Database:     "good_db",
			Orchestrator: goodOrch,
			Tables: []orchestrator.TableWork{
				{Target: func() pipeline.TableTarget { return testTarget() }, Profile: compliance.TableProfile{RetentionDays: 90}, Sizer: orchestrator.NewSizer(1000, 1000, 50000, 2*time.Second, 100*time.Millisecond, 0)},
			},
		},
		{
			Database:     "bad_db",
			Orchestrator: badOrch,
			Tables: []orchestrator.TableWork{
				{Target: func() pipeline.TableTarget { return testTarget() }, Profile: compliance.TableProfile{RetentionDays: 90}, Sizer: orchestrator.NewSizer(1000, 1000, 50000, 2*time.Second, 100*time.Millisecond, 0)},
			},
			VacuumStrategy: sourcedb.VacuumNone,
		},
	}

	run := &orchestrator.RunOrchestrator{ParallelDatabases: false, Log: zap.NewNop()}
	summary := run.Run(context.Background(), databases)

	assert.Equal(t, 2, summary.DatabasesProcessed)
	assert.Equal(t, 1, summary.DatabasesFailed)
	assert.Equal(t, int64(10), summary.RecordsArchived)

	good := summary.PerDatabase["good_db"]
	assert.Equal(t, 1, good.TablesProcessed)
	assert.Equal(t, 0, good.TablesFailed)

	bad := summary.PerDatabase["bad_db"]
	assert.Equal(t, 1, bad.TablesFailed)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
