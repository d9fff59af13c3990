package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the archiver's closed configuration surface: every value
// a run needs, with compiled-in defaults that differ between
// development and release builds (see Bind's releaseDefault/devDefault
// precedence). Fields ending in "Env" hold the name of an environment
// variable that carries the value, rather than the secret itself, so
// connection strings and access keys never need to appear in a config
// file on disk.
type Config struct {
	Run         RunConfig
	Database    DatabaseConfig
	ObjectStore ObjectStoreConfig
	Pipeline    PipelineConfig
	Orchestrator OrchestratorConfig
	LockManager LockManagerConfig
	Compliance  ComplianceConfig
	Watermark   WatermarkConfig
	Restore     RestoreConfig
	Metrics     MetricsConfig
}

// RunConfig controls the run-wide deadline and shutdown behavior.
type RunConfig struct {
	Deadline      time.Duration `default:"0" usage:"stop accepting new tables after this long (0 = no deadline)"`
	GracePeriod   time.Duration `default:"5m" usage:"how long to let in-flight tables finish on graceful shutdown"`
	CheckpointEvery int         `default:"10" usage:"persist a checkpoint every N completed batches"`
	DryRun        bool          `default:"false" usage:"not read by any command: a run with this set still deletes and commits"`
}

// DatabaseConfig is the per-logical-database connection policy.
// TableTargets is populated from the operator-facing config loader
// (out of scope here); Config only owns the pool and
// statement-timeout knobs shared by every database.
type DatabaseConfig struct {
	PoolSize           int           `default:"5" usage:"connections per logical database"`
	StatementTimeout   time.Duration `default:"30m" usage:"per-transaction statement timeout"`
	MaxClockSkew       time.Duration `default:"5s" usage:"abort a table if client/server clock skew exceeds this"`
	ConnectionStringEnv string       `default:"ARCHIVER_DB_DSN" usage:"env var holding the connection string"`
	VacuumStrategy     string        `default:"analyze" usage:"none, analyze, standard, or full"`
	VacuumTimeout      time.Duration `default:"10m"`
}

// ObjectStoreConfig configures the Object-Store Client.
type ObjectStoreConfig struct {
	Endpoint          string        `default:"" usage:"S3-compatible endpoint host:port"`
	Bucket            string        `default:"" usage:"destination bucket"`
	Prefix            string        `default:"archive" usage:"key prefix under the bucket"`
	Region            string        `default:"us-east-1"`
	UseTLS            bool          `default:"true"`
	AccessKeyEnv      string        `default:"ARCHIVER_OBJECTSTORE_ACCESS_KEY"`
	SecretKeyEnv      string        `default:"ARCHIVER_OBJECTSTORE_SECRET_KEY"`
	MultipartThreshold int64        `default:"10485760" usage:"objects above this size use multipart upload"`
	PartSize          int64         `default:"5242880"`
	RateLimitPerSec   float64       `default:"200" usage:"token-bucket refill rate per prefix"`
	RateLimitBurst    int           `default:"400"`
	SlowDownCooldown  time.Duration `default:"30s" usage:"how long the halved refill rate holds after a slow-down response"`
	CircuitBreakerThreshold int     `default:"5" usage:"consecutive failures before the circuit opens"`
	CircuitBreakerTimeout   time.Duration `default:"1m"`
	FallbackDir       string        `default:"$CONFDIR/fallback" usage:"local directory for failed uploads pending resume"`
	StorageClass      string        `default:"STANDARD"`
	SSEOption         string        `default:"none" usage:"none, sse-s3, or sse-kms"`
}

// PipelineConfig tunes the Batch Pipeline's adaptive sizing.
type PipelineConfig struct {
	InitialBatchSize int           `default:"5000"`
	MinBatchSize     int           `default:"1000"`
	MaxBatchSize     int           `default:"50000"`
	TargetFetchWindow time.Duration `default:"2s"`
	MinFetchWindow   time.Duration `default:"100ms"`
	MemoryCapBytes   int64         `default:"536870912" usage:"soft cap on batch_size * avg_row_bytes * 2"`
	CompressionLevel int           `default:"6"`
	SampleCheckMax   int           `default:"1000" usage:"not read: the sample-absence check size is fixed at min(1000, max(10, 1% of the batch))"`
	SampleCheckMin   int           `default:"10"`
	SampleCheckFraction float64    `default:"0.01"`
}

// OrchestratorConfig controls retry budgets and cross-database
// parallelism.
type OrchestratorConfig struct {
	RetryBase        time.Duration `default:"2s"`
	RetryCap         time.Duration `default:"30s"`
	RetryMaxAttempts int           `default:"3"`
	MaxBatchesPerRun int           `default:"0" usage:"0 = unlimited"`
	BatchWallClockTimeout time.Duration `default:"15m"`
	ParallelDatabases bool          `default:"false"`
	ParallelCap       int           `default:"3"`
	ParallelHardCap   int           `default:"10"`
}

// LockManagerConfig selects and tunes the distributed-lock backend.
type LockManagerConfig struct {
	Backend              string        `default:"file" usage:"file, database, or redis"`
	FileLockPath         string        `default:"$CONFDIR/archiver.lock"`
	RedisAddrEnv         string        `default:"ARCHIVER_LOCKMANAGER_REDIS_ADDR"`
	HeartbeatInterval    time.Duration `default:"30s"`
	RunLockTTL           time.Duration `default:"240m" usage:"2x the per-table TTL, matching the stale-lock rule"`
	TableLockTTL         time.Duration `default:"120m"`
}

// ComplianceConfig configures the legal-hold/retention/encryption
// preconditions.
type ComplianceConfig struct {
	HoldSource        string `default:"none" usage:"none, database, http, or file"`
	HoldSourceURL     string `default:""`
	HoldSourcePath    string `default:""`
	MinRetentionDays  int    `default:"30"`
	MaxRetentionDays  int    `default:"3650"`
	RequireEncryptionForCritical bool `default:"true"`
}

// WatermarkConfig selects the watermark/checkpoint persistence
// backend.
type WatermarkConfig struct {
	DBTableBackend    bool          `default:"false" usage:"also persist watermarks to a database table"`
	CheckpointMaxAge  time.Duration `default:"168h" usage:"checkpoints older than this are garbage-collected"`
}

// RestoreConfig configures the Restore Engine's defaults.
type RestoreConfig struct {
	DefaultConflictStrategy string `default:"fail" usage:"skip, overwrite, fail, or upsert"`
	DefaultSchemaStrategy   string `default:"lenient" usage:"strict, lenient, transform, or none"`
	BulkLoadBatchSize       int    `default:"50000"`
	CommitEvery             int    `default:"1" usage:"not read: the bulk loader commits once per restored object"`
}

// MetricsConfig controls the optional /metrics and /health server.
type MetricsConfig struct {
	Enabled bool   `default:"false"`
	Addr    string `default:"127.0.0.1:9090"`
}

// Load checks that the environment variables named by
// Database.ConnectionStringEnv, ObjectStore.AccessKeyEnv and
// ObjectStore.SecretKeyEnv are set (it does not store their values in
// cfg) and validates the rest of cfg. Both happen here, before any
// component is constructed: validation is mandatory before any side
// effect.
func Load(cfg *Config) error {
	if _, ok := resolveEnv(cfg.Database.ConnectionStringEnv); !ok {
		return fmt.Errorf("config: %s is not set", cfg.Database.ConnectionStringEnv)
	}

	if cfg.ObjectStore.Bucket == "" {
		return fmt.Errorf("config: object_store.bucket is required")
	}
	if _, ok := resolveEnv(cfg.ObjectStore.AccessKeyEnv); !ok {
		return fmt.Errorf("config: %s is not set", cfg.ObjectStore.AccessKeyEnv)
	}
	if _, ok := resolveEnv(cfg.ObjectStore.SecretKeyEnv); !ok {
		return fmt.Errorf("config: %s is not set", cfg.ObjectStore.SecretKeyEnv)
	}

	if cfg.Pipeline.MinBatchSize <= 0 || cfg.Pipeline.MaxBatchSize < cfg.Pipeline.MinBatchSize {
		return fmt.Errorf("config: pipeline batch-size bounds are invalid: min=%d max=%d",
			cfg.Pipeline.MinBatchSize, cfg.Pipeline.MaxBatchSize)
	}
	if cfg.Pipeline.InitialBatchSize < cfg.Pipeline.MinBatchSize || cfg.Pipeline.InitialBatchSize > cfg.Pipeline.MaxBatchSize {
		return fmt.Errorf("config: pipeline.initial-batch-size %d is outside [%d, %d]",
			cfg.Pipeline.InitialBatchSize, cfg.Pipeline.MinBatchSize, cfg.Pipeline.MaxBatchSize)
	}
	if cfg.Pipeline.CompressionLevel < 1 || cfg.Pipeline.CompressionLevel > 9 {
		return fmt.Errorf("config: pipeline.compression-level %d must be in [1, 9]", cfg.Pipeline.CompressionLevel)
	}

	if cfg.Compliance.MinRetentionDays <= 0 || cfg.Compliance.MaxRetentionDays < cfg.Compliance.MinRetentionDays {
		return fmt.Errorf("config: compliance retention bounds are invalid: min=%d max=%d",
			cfg.Compliance.MinRetentionDays, cfg.Compliance.MaxRetentionDays)
	}

	switch cfg.Restore.DefaultConflictStrategy {
	case "skip", "overwrite", "fail", "upsert":
	default:
		return fmt.Errorf("config: restore.default-conflict-strategy %q is not one of skip/overwrite/fail/upsert",
			cfg.Restore.DefaultConflictStrategy)
	}
	switch cfg.Restore.DefaultSchemaStrategy {
	case "strict", "lenient", "transform", "none":
	default:
		return fmt.Errorf("config: restore.default-schema-strategy %q is not one of strict/lenient/transform/none",
			cfg.Restore.DefaultSchemaStrategy)
	}

	switch strings.ToLower(cfg.LockManager.Backend) {
	case "file", "database", "redis":
	default:
		return fmt.Errorf("config: lock-manager.backend %q is not one of file/database/redis", cfg.LockManager.Backend)
	}
	if cfg.LockManager.RunLockTTL < 2*cfg.LockManager.TableLockTTL {
		return fmt.Errorf("config: lock-manager.run-lock-ttl must be at least 2x table-lock-ttl")
	}

	if cfg.ObjectStore.PartSize <= 0 || cfg.ObjectStore.MultipartThreshold < cfg.ObjectStore.PartSize {
		return fmt.Errorf("config: object-store multipart sizing is invalid")
	}

	return nil
}

// resolveEnv looks up the environment variable named by envVarName and
// reports whether it was set to a non-empty value.
func resolveEnv(envVarName string) (string, bool) {
	v := os.Getenv(envVarName)
	return v, v != ""
}
