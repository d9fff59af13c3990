package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/labsbykora/audit-table-archiver/pkg/audit"
	"github.com/labsbykora/audit-table-archiver/pkg/compliance"
	"github.com/labsbykora/audit-table-archiver/pkg/config"
	"github.com/labsbykora/audit-table-archiver/pkg/lockmanager"
	"github.com/labsbykora/audit-table-archiver/pkg/metrics"
	"github.com/labsbykora/audit-table-archiver/pkg/objectstore"
	"github.com/labsbykora/audit-table-archiver/pkg/retry"
	"github.com/labsbykora/audit-table-archiver/pkg/sourcedb"
	"github.com/labsbykora/audit-table-archiver/pkg/watermark"
)

// configFilePath is shared by every subcommand's --config flag; only
// one subcommand runs per process invocation.
var configFilePath string

// bindConfig registers cfg's flags directly on cmd (a leaf subcommand,
// never rootCmd: cobra only merges a command's own local flags into
// its env-override/config-file handling once that exact command is
// the one executing) and adds the --config file flag. It returns a
// function the caller should invoke at the start of RunE to apply the
// config file and ARCHIVER_ environment overrides (in that order, on
// top of whatever the command line already set) and validate the
// result.
func bindConfig(cmd *cobra.Command) func() error {
	config.BindCmd(cmd, &cfg, config.ConfDirNested(os.ExpandEnv("$HOME/.archiver")))
	cmd.Flags().StringVar(&configFilePath, "config", "", "path to a YAML/TOML/JSON config file layered under flags and environment overrides")

	return func() error {
		if configFilePath != "" {
			if err := config.LoadConfigFile(cmd, configFilePath); err != nil {
				return err
			}
		}
		if err := config.ApplyEnvOverrides(cmd); err != nil {
			return err
		}
		return config.Load(&cfg)
	}
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("ARCHIVER_DEBUG") != "" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildObjectStore constructs the Object-Store Client and its
// fallback escape hatch from cfg. sweep-staged uses the returned
// Fallback directly; archive/restore only need the Client.
func buildObjectStore(log *zap.Logger, cfg config.ObjectStoreConfig) (*objectstore.Client, *objectstore.Fallback, error) {
	fb, err := objectstore.NewFallback(os.ExpandEnv(cfg.FallbackDir))
	if err != nil {
		return nil, nil, fmt.Errorf("wiring: open fallback store: %w", err)
	}

	accessKey := os.Getenv(cfg.AccessKeyEnv)
	secretKey := os.Getenv(cfg.SecretKeyEnv)

	client, err := objectstore.New(log, objectstore.Config{
		Endpoint:           cfg.Endpoint,
		AccessKey:          accessKey,
		SecretKey:          secretKey,
		Bucket:             cfg.Bucket,
		Region:             cfg.Region,
		UseTLS:             cfg.UseTLS,
		MultipartThreshold: cfg.MultipartThreshold,
		PartSize:           cfg.PartSize,
	}, fb)
	if err != nil {
		return nil, nil, fmt.Errorf("wiring: new object-store client: %w", err)
	}
	return client, fb, nil
}

// buildLockManager selects the configured distributed-lock backend.
func buildLockManager(cfg config.LockManagerConfig, db *sourcedb.Database) (*lockmanager.Manager, error) {
	classify := func(err error) bool { return true }
	acquireRetry := retry.Default(classify)

	var backend lockmanager.Backend
	switch cfg.Backend {
	case "file":
		dir := os.ExpandEnv(cfg.FileLockPath)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("wiring: create lock dir %s: %w", dir, err)
		}
		backend = lockmanager.NewFileBackend(dir)
	case "database":
		backend = lockmanager.NewDatabaseBackend(db.SQLDB())
	case "redis":
		addr := os.Getenv(cfg.RedisAddrEnv)
		if addr == "" {
			return nil, fmt.Errorf("wiring: %s is not set", cfg.RedisAddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		backend = lockmanager.NewRedisBackend(client, "archiver:lock:")
	default:
		return nil, fmt.Errorf("wiring: unknown lock-manager backend %q", cfg.Backend)
	}

	return lockmanager.NewManager(backend, acquireRetry), nil
}

// buildComplianceGate wires the configured hold source into a Gate. A
// "none" hold source still enforces retention/encryption, just never
// refuses a table for an active legal hold.
func buildComplianceGate(cfg config.ComplianceConfig) (*compliance.Gate, error) {
	var holds compliance.HoldSource
	switch cfg.HoldSource {
	case "none":
		holds = noHolds{}
	case "http":
		holds = compliance.NewHTTPHoldSource(cfg.HoldSourceURL, nil)
	case "file":
		src, err := compliance.NewFileHoldSource(cfg.HoldSourcePath)
		if err != nil {
			return nil, fmt.Errorf("wiring: new file hold source: %w", err)
		}
		holds = src
	case "database":
		return nil, fmt.Errorf("wiring: compliance.hold-source=database requires a per-database *sql.DB; construct it in the database loop instead")
	default:
		return nil, fmt.Errorf("wiring: unknown compliance hold-source %q", cfg.HoldSource)
	}

	bounds := func(string) compliance.RetentionBounds {
		return compliance.RetentionBounds{MinDays: cfg.MinRetentionDays, MaxDays: cfg.MaxRetentionDays}
	}
	return compliance.NewGate(holds, bounds, cfg.RequireEncryptionForCritical), nil
}

// noHolds is the HoldSource used when compliance.hold-source=none:
// every lookup reports no active hold.
type noHolds struct{}

func (noHolds) LookupHold(ctx context.Context, database, schema, table string) (*compliance.Hold, error) {
	return nil, nil
}

// buildWatermarkStore picks the object-store-backed watermark store,
// optionally mirroring every write to a database table on top, for
// operators who
// want watermark state queryable with SQL without an object-store
// round trip).
func buildWatermarkStore(cfg config.WatermarkConfig, client *objectstore.Client, prefix string, db *sourcedb.Database) (watermark.Store, error) {
	primary := watermark.NewObjectStoreStore(client, prefix)
	if !cfg.DBTableBackend || db == nil {
		return primary, nil
	}

	mirror := watermark.NewDBStore(db.SQLDB())
	if err := watermark.Migration(db.SQLDB()); err != nil {
		return nil, fmt.Errorf("wiring: watermark db-table migration: %w", err)
	}
	return dualWatermarkStore{primary: primary, mirror: mirror}, nil
}

// dualWatermarkStore writes every watermark/checkpoint mutation to
// both backends but reads only from primary, so the object store stays
// authoritative and the database table is a queryable mirror, never a
// second source of truth a Load has to reconcile.
type dualWatermarkStore struct {
	primary watermark.Store
	mirror  watermark.Store
}

func (d dualWatermarkStore) LoadWatermark(ctx context.Context, database, schema, table string) (*watermark.Watermark, error) {
	return d.primary.LoadWatermark(ctx, database, schema, table)
}

func (d dualWatermarkStore) SaveWatermark(ctx context.Context, wm *watermark.Watermark) error {
	if err := d.primary.SaveWatermark(ctx, wm); err != nil {
		return err
	}
	if err := d.mirror.SaveWatermark(ctx, wm); err != nil {
		return fmt.Errorf("wiring: mirror watermark to database: %w", err)
	}
	return nil
}

func (d dualWatermarkStore) LoadCheckpoint(ctx context.Context, database, schema, table string) (*watermark.Checkpoint, error) {
	return d.primary.LoadCheckpoint(ctx, database, schema, table)
}

func (d dualWatermarkStore) SaveCheckpoint(ctx context.Context, cp *watermark.Checkpoint) error {
	if err := d.primary.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	if err := d.mirror.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("wiring: mirror checkpoint to database: %w", err)
	}
	return nil
}

func (d dualWatermarkStore) ClearCheckpoint(ctx context.Context, database, schema, table string) error {
	if err := d.primary.ClearCheckpoint(ctx, database, schema, table); err != nil {
		return err
	}
	return d.mirror.ClearCheckpoint(ctx, database, schema, table)
}

func (d dualWatermarkStore) GCCheckpoints(ctx context.Context, cutoff time.Time) error {
	if err := d.primary.GCCheckpoints(ctx, cutoff); err != nil {
		return err
	}
	return d.mirror.GCCheckpoints(ctx, cutoff)
}

// sharedRand is the per-process random source pipeline.New needs for
// sample-absence selection; sharing one instance across every table's
// Pipeline keeps selection unpredictable across the whole run rather
// than reseeded identically per table.
var sharedRand = rand.New(rand.NewSource(processSeed()))

func processSeed() int64 {
	// A fixed seed would make sample-absence checks predictable across
	// restarts; os.Getpid combined with a fixed salt is good enough
	// since this only needs to avoid a trivially guessable sequence,
	// not cryptographic unpredictability.
	return int64(os.Getpid())*2654435761 + 1
}

func newMetricsHealthChecker() *metrics.HealthChecker {
	return metrics.NewHealthChecker()
}

func emitterFor(sink audit.Sink) *audit.Emitter {
	return audit.NewEmitter(sink, "archiver")
}
