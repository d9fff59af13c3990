package lockmanager_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/pkg/lockmanager"
)

func newMiniredisBackend(t *testing.T) *lockmanager.RedisBackend {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return lockmanager.NewRedisBackend(client, "archiver:lock:")
}

func TestRedisBackendAcquireRenewRelease(t *testing.T) {
	backend := newMiniredisBackend(t)
	ctx := context.Background()

	token, ok, err := backend.TryAcquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = backend.TryAcquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Renew(ctx, "run", token, time.Minute))
	require.NoError(t, backend.Release(ctx, "run", token))

	token2, ok, err := backend.TryAcquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, backend.Release(ctx, "run", token2))
}

func TestRedisBackendRenewFailsOnTokenMismatch(t *testing.T) {
	backend := newMiniredisBackend(t)
	ctx := context.Background()

	_, ok, err := backend.TryAcquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = backend.Renew(ctx, "run", "not-the-real-token", time.Minute)
	assert.Error(t, err)
}
