package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/pkg/config"
)

func defaultConfig() *config.Config {
	var cfg config.Config
	cfg.Database.ConnectionStringEnv = "TEST_DB_DSN"
	cfg.ObjectStore.Bucket = "archive-bucket"
	cfg.ObjectStore.AccessKeyEnv = "TEST_ACCESS_KEY"
	cfg.ObjectStore.SecretKeyEnv = "TEST_SECRET_KEY"
	cfg.ObjectStore.PartSize = 5 << 20
	cfg.ObjectStore.MultipartThreshold = 10 << 20
	cfg.Pipeline.MinBatchSize = 1000
	cfg.Pipeline.MaxBatchSize = 50000
	cfg.Pipeline.InitialBatchSize = 5000
	cfg.Pipeline.CompressionLevel = 6
	cfg.Compliance.MinRetentionDays = 30
	cfg.Compliance.MaxRetentionDays = 3650
	cfg.Restore.DefaultConflictStrategy = "fail"
	cfg.Restore.DefaultSchemaStrategy = "lenient"
	cfg.LockManager.Backend = "file"
	cfg.LockManager.TableLockTTL = 120 * time.Minute
	cfg.LockManager.RunLockTTL = 240 * time.Minute
	return &cfg
}

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() { _ = os.Unsetenv(key) })
}

func TestLoadRequiresDatabaseDSNEnv(t *testing.T) {
	cfg := defaultConfig()
	err := config.Load(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_DB_DSN")
}

func TestLoadSucceedsWithAllEnvSet(t *testing.T) {
	cfg := defaultConfig()
	withEnv(t, "TEST_DB_DSN", "postgres://localhost/archive")
	withEnv(t, "TEST_ACCESS_KEY", "key")
	withEnv(t, "TEST_SECRET_KEY", "secret")

	require.NoError(t, config.Load(cfg))
}

func TestLoadRejectsInvertedBatchSizeBounds(t *testing.T) {
	cfg := defaultConfig()
	withEnv(t, "TEST_DB_DSN", "postgres://localhost/archive")
	withEnv(t, "TEST_ACCESS_KEY", "key")
	withEnv(t, "TEST_SECRET_KEY", "secret")

	cfg.Pipeline.MinBatchSize = 5000
	cfg.Pipeline.MaxBatchSize = 1000

	err := config.Load(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch-size bounds")
}

func TestLoadRejectsUnknownConflictStrategy(t *testing.T) {
	cfg := defaultConfig()
	withEnv(t, "TEST_DB_DSN", "postgres://localhost/archive")
	withEnv(t, "TEST_ACCESS_KEY", "key")
	withEnv(t, "TEST_SECRET_KEY", "secret")

	cfg.Restore.DefaultConflictStrategy = "merge"

	err := config.Load(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default-conflict-strategy")
}

func TestLoadRejectsRunLockTTLBelowTwiceTableLockTTL(t *testing.T) {
	cfg := defaultConfig()
	withEnv(t, "TEST_DB_DSN", "postgres://localhost/archive")
	withEnv(t, "TEST_ACCESS_KEY", "key")
	withEnv(t, "TEST_SECRET_KEY", "secret")

	cfg.LockManager.RunLockTTL = cfg.LockManager.TableLockTTL

	err := config.Load(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-lock-ttl")
}
