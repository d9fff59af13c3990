package lockmanager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/pkg/lockmanager"
)

func TestFileBackendTryAcquireIsExclusive(t *testing.T) {
	dir := t.TempDir()
	backend := lockmanager.NewFileBackend(dir)
	ctx := context.Background()

	token, ok, err := backend.TryAcquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = backend.TryAcquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Release(ctx, "run", token))

	token2, ok, err := backend.TryAcquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, backend.Release(ctx, "run", token2))
}

func TestFileBackendRenewRequiresHeldLock(t *testing.T) {
	dir := t.TempDir()
	backend := lockmanager.NewFileBackend(dir)
	ctx := context.Background()

	err := backend.Renew(ctx, "never-held", "tok", time.Minute)
	assert.Error(t, err)
}
