package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/labsbykora/audit-table-archiver/internal/sync2"
	"github.com/labsbykora/audit-table-archiver/pkg/compliance"
	"github.com/labsbykora/audit-table-archiver/pkg/notify"
	"github.com/labsbykora/audit-table-archiver/pkg/pipeline"
	"github.com/labsbykora/audit-table-archiver/pkg/sourcedb"
)

// DatabaseRun is one logical database's full unit of work: the
// TableOrchestrator bound to that database's pool and lock backend,
// plus every table to archive within it.
type DatabaseRun struct {
	Database       string
	Orchestrator   *TableOrchestrator
	Tables         []TableWork
	VacuumStrategy sourcedb.VacuumStrategy
}

// TableWork is one table within a DatabaseRun. Target is a function
// rather than a plain value so the Cutoff field (computed once per
// run from server time, not per table-list-build time) and any
// freshly-resolved record-level hold clause can be set lazily right
// before that table's first batch runs.
type TableWork struct {
	Target  func() pipeline.TableTarget
	Profile compliance.TableProfile
	Sizer   *Sizer
}

// RunOrchestrator implements the Run Orchestrator:
// sequential by default, bounded-parallel across databases when
// enabled, with per-database failure isolation.
type RunOrchestrator struct {
	ParallelDatabases bool
	ParallelCap       int
	ParallelHardCap   int
	TableConfig       Config
	Log               *zap.Logger

	// Notifier receives a run-start event, a table-failure event as
	// soon as each failure happens (one per failed table; sends are not
	// rate-limited), and a run-finish summary once every database has
	// completed. Left nil, or set to notify.NopSender{}, this is a no-op.
	Notifier notify.Sender
}

func (r *RunOrchestrator) notifier() notify.Sender {
	if r.Notifier == nil {
		return notify.NopSender{}
	}
	return r.Notifier
}

// DatabaseOutcome summarizes one database's run.
type DatabaseOutcome struct {
	TablesProcessed int
	TablesFailed    int
	TablesRefused   int
	RecordsArchived int64
	TableResults    []Result
}

// Summary is the run-wide report: databases processed/failed, records
// archived, and each database's outcome. It holds no total of bytes
// uploaded; each table's vacuum result is in its Result.Vacuum within
// DatabaseOutcome.TableResults.
type Summary struct {
	DatabasesProcessed int
	DatabasesFailed    int
	RecordsArchived    int64
	PerDatabase        map[string]DatabaseOutcome
}

// Run iterates databases, sequentially or bounded-parallel per
// r.ParallelDatabases, isolating failures so one database's error
// never aborts another.
func (r *RunOrchestrator) Run(ctx context.Context, databases []DatabaseRun) Summary {
	cap := 1
	if r.ParallelDatabases {
		cap = r.ParallelCap
		if cap <= 0 {
			cap = 1
		}
		if cap > r.ParallelHardCap && r.ParallelHardCap > 0 {
			cap = r.ParallelHardCap
		}
	}

	sender := r.notifier()
	_ = sender.Send(ctx, notify.Event{
		Kind:    "run_started",
		Subject: fmt.Sprintf("archive run started: %d databases", len(databases)),
	})

	limiter := sync2.NewLimiter(cap)
	var mu sync.Mutex
	summary := Summary{PerDatabase: make(map[string]DatabaseOutcome, len(databases))}

	for _, db := range databases {
		db := db
		limiter.Go(ctx, func() {
			outcome := r.runDatabase(ctx, db)

			mu.Lock()
			defer mu.Unlock()
			summary.DatabasesProcessed++
			if outcome.TablesFailed > 0 {
				summary.DatabasesFailed++
			}
			summary.RecordsArchived += outcome.RecordsArchived
			summary.PerDatabase[db.Database] = outcome
		})
	}
	limiter.Wait()

	_ = sender.Send(ctx, notify.Event{
		Kind:    "run_finished",
		Subject: fmt.Sprintf("archive run finished: %d/%d databases failed", summary.DatabasesFailed, summary.DatabasesProcessed),
		Body:    fmt.Sprintf("records_archived=%d", summary.RecordsArchived),
	})

	return summary
}

func (r *RunOrchestrator) runDatabase(ctx context.Context, db DatabaseRun) DatabaseOutcome {
	outcome := DatabaseOutcome{}
	sender := r.notifier()
	for _, tw := range db.Tables {
		select {
		case <-ctx.Done():
			return outcome
		default:
		}

		target := tw.Target()
		res := db.Orchestrator.Run(ctx, target, tw.Profile, db.VacuumStrategy, tw.Sizer, r.TableConfig)
		outcome.TableResults = append(outcome.TableResults, res)
		if !res.Admitted {
			outcome.TablesRefused++
			continue
		}
		outcome.TablesProcessed++
		outcome.RecordsArchived += res.RowsArchived
		if res.Err != nil {
			outcome.TablesFailed++
			if r.Log != nil {
				r.Log.Error("table archive failed",
					zap.String("database", db.Database), zap.String("table", res.Table), zap.Error(res.Err))
			}
			_ = sender.Send(ctx, notify.Event{
				Kind:    "table_failed",
				Subject: fmt.Sprintf("archive failed: %s.%s", db.Database, res.Table),
				Body:    res.Err.Error(),
			})
		}
	}
	return outcome
}
