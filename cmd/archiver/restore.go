package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/labsbykora/audit-table-archiver/pkg/audit"
	"github.com/labsbykora/audit-table-archiver/pkg/restore"
	"github.com/labsbykora/audit-table-archiver/pkg/sourcedb"
)

var restoreFlags struct {
	database        string
	connectionString string
	schema          string
	table           string
	objectKeys      []string
	dateFrom        string
	dateTo          string
	conflict        string
	schemaStrategy  string
	ignoreWatermark bool
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore archived rows from object storage back into a live table",
	RunE:  runRestore,
}

var finalizeRestoreConfig func() error

func init() {
	f := restoreCmd.Flags()
	f.StringVar(&restoreFlags.database, "database", "", "logical database name (must match a targets.yaml entry)")
	f.StringVar(&restoreFlags.connectionString, "connection-string-env", "", "env var holding the restore target's connection string (defaults to database.connection-string-env)")
	f.StringVar(&restoreFlags.schema, "schema", "", "schema name")
	f.StringVar(&restoreFlags.table, "table", "", "table name")
	f.StringSliceVar(&restoreFlags.objectKeys, "object-key", nil, "explicit archived object key to restore (repeatable); takes precedence over --date-from/--date-to")
	f.StringVar(&restoreFlags.dateFrom, "date-from", "", "restore objects partitioned on or after this date (YYYY-MM-DD)")
	f.StringVar(&restoreFlags.dateTo, "date-to", "", "restore objects partitioned on or before this date (YYYY-MM-DD)")
	f.StringVar(&restoreFlags.conflict, "conflict", "", "skip, overwrite, fail, or upsert (defaults to restore.default-conflict-strategy)")
	f.StringVar(&restoreFlags.schemaStrategy, "schema-strategy", "", "strict, lenient, transform, or none (defaults to restore.default-schema-strategy)")
	f.BoolVar(&restoreFlags.ignoreWatermark, "ignore-watermark", false, "restore every matching object even if a prior run already restored past it")

	finalizeRestoreConfig = bindConfig(restoreCmd)
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	if err := finalizeRestoreConfig(); err != nil {
		return err
	}
	if restoreFlags.database == "" || restoreFlags.schema == "" || restoreFlags.table == "" {
		return fmt.Errorf("restore: --database, --schema, and --table are required")
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	objClient, _, err := buildObjectStore(log, cfg.ObjectStore)
	if err != nil {
		return err
	}

	connEnv := restoreFlags.connectionString
	if connEnv == "" {
		connEnv = cfg.Database.ConnectionStringEnv
	}
	connstr, err := resolveConnectionString("$" + connEnv)
	if err != nil {
		return err
	}

	poolCfg := sourcedb.DefaultPoolConfig()
	poolCfg.MaxOpenConns = cfg.Database.PoolSize
	poolCfg.MaxIdleConns = cfg.Database.PoolSize
	poolCfg.StatementTimeout = cfg.Database.StatementTimeout

	db, err := sourcedb.Open(log, restoreFlags.database, connstr, poolCfg)
	if err != nil {
		return fmt.Errorf("restore: open %s: %w", restoreFlags.database, err)
	}
	defer db.Close()

	emitter := audit.NewEmitter(audit.NewObjectStoreSink(objClient, cfg.ObjectStore.Prefix), "archiver")
	progress := restore.NewProgressStore(objClient, cfg.ObjectStore.Prefix)
	loader := restore.NewBulkLoader(db)

	engine := restore.NewEngine(objClient, db, loader, progress, emitter, log)

	target, err := buildRestoreTarget()
	if err != nil {
		return err
	}

	report, err := engine.Restore(cmd.Context(), cfg.ObjectStore.Prefix, target)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	fmt.Printf("objects considered=%d skipped=%d records restored=%d skipped=%d failed=%d\n",
		report.ObjectsConsidered, report.ObjectsSkipped, report.RecordsRestored, report.RecordsSkipped, report.RecordsFailed)
	for _, e := range report.Errors {
		fmt.Println("  error:", e)
	}
	return nil
}

func buildRestoreTarget() (restore.Target, error) {
	conflict := restoreFlags.conflict
	if conflict == "" {
		conflict = cfg.Restore.DefaultConflictStrategy
	}
	schemaStrategy := restoreFlags.schemaStrategy
	if schemaStrategy == "" {
		schemaStrategy = cfg.Restore.DefaultSchemaStrategy
	}

	target := restore.Target{
		Database:               restoreFlags.database,
		Schema:                 restoreFlags.schema,
		Table:                  restoreFlags.table,
		ObjectKeys:             restoreFlags.objectKeys,
		Conflict:               restore.ConflictStrategy(conflict),
		SchemaStrategyChoice:   restore.SchemaStrategy(schemaStrategy),
		IgnoreRestoreWatermark: restoreFlags.ignoreWatermark,
		BulkLoadBatchSize:      cfg.Restore.BulkLoadBatchSize,
		CommitEvery:            cfg.Restore.CommitEvery,
	}

	if len(target.ObjectKeys) == 0 && (restoreFlags.dateFrom != "" || restoreFlags.dateTo != "") {
		from, to, err := parseDateRange(restoreFlags.dateFrom, restoreFlags.dateTo)
		if err != nil {
			return restore.Target{}, err
		}
		target.DateRange = restore.DateRange{From: from, To: to}
	}

	return target, nil
}

func parseDateRange(fromStr, toStr string) (from, to time.Time, err error) {
	if fromStr != "" {
		from, err = time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("restore: --date-from: %w", err)
		}
	}
	if toStr != "" {
		to, err = time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("restore: --date-to: %w", err)
		}
	} else {
		to = time.Now().UTC()
	}
	return from, to, nil
}
