package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/labsbykora/audit-table-archiver/pkg/archiveerr"
	"github.com/labsbykora/audit-table-archiver/pkg/audit"
	"github.com/labsbykora/audit-table-archiver/pkg/metrics"
	"github.com/labsbykora/audit-table-archiver/pkg/orchestrator"
	"github.com/labsbykora/audit-table-archiver/pkg/pipeline"
	"github.com/labsbykora/audit-table-archiver/pkg/retry"
	"github.com/labsbykora/audit-table-archiver/pkg/sourcedb"
)

var archiveTargetsPath string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive eligible rows from every configured table to object storage",
	RunE:  runArchive,
}

var finalizeArchiveConfig func() error

func init() {
	archiveCmd.Flags().StringVar(&archiveTargetsPath, "targets", "targets.yaml", "path to the database/table targets file")
	finalizeArchiveConfig = bindConfig(archiveCmd)
	rootCmd.AddCommand(archiveCmd)
}

func runArchive(cmd *cobra.Command, args []string) error {
	if err := finalizeArchiveConfig(); err != nil {
		return err
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	tf, err := loadTargets(archiveTargetsPath)
	if err != nil {
		return err
	}

	objClient, _, err := buildObjectStore(log, cfg.ObjectStore)
	if err != nil {
		return err
	}

	gate, err := buildComplianceGate(cfg.Compliance)
	if err != nil {
		return err
	}

	classifyBatchErr := func(err error) bool { return !archiveerr.IsPermanent(err) }
	batchRetry := retry.Policy{Base: cfg.Orchestrator.RetryBase, Cap: cfg.Orchestrator.RetryCap, MaxAttempts: cfg.Orchestrator.RetryMaxAttempts, Classify: classifyBatchErr}
	recorder := metrics.NewRecorder()

	baseCtx := cmd.Context()
	var runs []orchestrator.DatabaseRun

	for _, dbt := range tf.Databases {
		connstr, err := resolveConnectionString(dbt.ConnectionString)
		if err != nil {
			return err
		}
		poolCfg := sourcedb.DefaultPoolConfig()
		poolCfg.MaxOpenConns = cfg.Database.PoolSize
		poolCfg.MaxIdleConns = cfg.Database.PoolSize
		poolCfg.StatementTimeout = cfg.Database.StatementTimeout

		db, err := sourcedb.Open(log, dbt.Name, connstr, poolCfg)
		if err != nil {
			return fmt.Errorf("archive: open %s: %w", dbt.Name, err)
		}
		defer db.Close()

		serverNow, skew, err := db.ServerTime(baseCtx)
		if err != nil {
			return fmt.Errorf("archive: server time for %s: %w", dbt.Name, err)
		}
		if skew < 0 {
			skew = -skew
		}
		if skew > cfg.Database.MaxClockSkew {
			return fmt.Errorf("archive: %s clock skew %s exceeds %s", dbt.Name, skew, cfg.Database.MaxClockSkew)
		}

		locks, err := buildLockManager(cfg.LockManager, db)
		if err != nil {
			return err
		}

		emitter := audit.NewEmitter(audit.NewObjectStoreSink(objClient, cfg.ObjectStore.Prefix), "archiver")
		wm, err := buildWatermarkStore(cfg.Watermark, objClient, cfg.ObjectStore.Prefix, db)
		if err != nil {
			return err
		}

		vacuumStrategy := parseVacuumStrategy(dbt.VacuumStrategy)
		if dbt.VacuumStrategy == "" {
			vacuumStrategy = parseVacuumStrategy(cfg.Database.VacuumStrategy)
		}

		p := pipeline.New(db, objClient, wm, emitter, pipeline.Config{
			ObjectPrefix:        cfg.ObjectStore.Prefix,
			CompressionLevel:    cfg.Pipeline.CompressionLevel,
			SampleCheckMin:      cfg.Pipeline.SampleCheckMin,
			SampleCheckMax:      cfg.Pipeline.SampleCheckMax,
			SampleCheckFraction: cfg.Pipeline.SampleCheckFraction,
		}, sharedRand, log)

		orch := orchestrator.New(p, db, emitter, locks, gate, batchRetry, recorder, wm, log)

		run := orchestrator.DatabaseRun{
			Database:       dbt.Name,
			Orchestrator:   orch,
			VacuumStrategy: vacuumStrategy,
		}

		for _, tt := range dbt.Tables {
			tt := tt
			dbName := dbt.Name

			schemaTable, _, err := db.Introspect(tt.Schema, tt.Table)
			if err != nil {
				return fmt.Errorf("archive: introspect %s.%s.%s: %w", dbName, tt.Schema, tt.Table, err)
			}
			columnTypes := make(map[string]string, len(schemaTable.Columns))
			for _, col := range schemaTable.Columns {
				columnTypes[col.Name] = col.Type
			}

			sizer := orchestrator.NewSizer(
				cfg.Pipeline.InitialBatchSize, cfg.Pipeline.MinBatchSize, cfg.Pipeline.MaxBatchSize,
				cfg.Pipeline.TargetFetchWindow, cfg.Pipeline.MinFetchWindow, cfg.Pipeline.MemoryCapBytes,
			)

			target := func() pipeline.TableTarget {
				return pipeline.TableTarget{
					Database:        dbName,
					Schema:          tt.Schema,
					Table:           tt.Table,
					Columns:         tt.Columns,
					ColumnTypes:     columnTypes,
					TSColumn:        tt.TSColumn,
					PKColumns:       tt.PKColumns,
					Cutoff:          cutoffFor(serverNow, tt.RetentionDays),
					Critical:        tt.Critical,
					StorageClass:    cfg.ObjectStore.StorageClass,
					SSEOption:       cfg.ObjectStore.SSEOption,
					ArchiverVersion: archiverVersion,
				}
			}

			run.Tables = append(run.Tables, orchestrator.TableWork{
				Target:  target,
				Profile: tt.profileFor(dbName, cfg.ObjectStore.SSEOption),
				Sizer:   sizer,
			})
		}

		runs = append(runs, run)
	}

	runOrch := orchestrator.RunOrchestrator{
		ParallelDatabases: cfg.Orchestrator.ParallelDatabases,
		ParallelCap:       cfg.Orchestrator.ParallelCap,
		ParallelHardCap:   cfg.Orchestrator.ParallelHardCap,
		TableConfig: orchestrator.Config{
			MaxBatchesPerRun:      cfg.Orchestrator.MaxBatchesPerRun,
			BatchWallClockTimeout: cfg.Orchestrator.BatchWallClockTimeout,
			TableLockTTL:          cfg.LockManager.TableLockTTL,
			VacuumTimeout:         cfg.Database.VacuumTimeout,
			CheckpointInterval:    cfg.Run.CheckpointEvery,
		},
		Log: log,
	}

	runCtx := baseCtx
	if cfg.Run.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(baseCtx, cfg.Run.Deadline)
		defer cancel()
	}

	summary := runOrch.Run(runCtx, runs)
	log.Info("archive run complete",
		zap.Int("databases_processed", summary.DatabasesProcessed),
		zap.Int("databases_failed", summary.DatabasesFailed),
		zap.Int64("records_archived", summary.RecordsArchived))

	if summary.DatabasesFailed > 0 {
		return fmt.Errorf("archive: %d of %d databases had failed tables", summary.DatabasesFailed, summary.DatabasesProcessed)
	}
	return nil
}
