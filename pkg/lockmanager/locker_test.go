package lockmanager_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/pkg/lockmanager"
	"github.com/labsbykora/audit-table-archiver/pkg/retry"
)

// fakeBackend is an in-memory Backend for exercising Manager without a
// real file/database/redis dependency.
type fakeBackend struct {
	mu        sync.Mutex
	holders   map[string]string
	renewFail bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{holders: make(map[string]string)}
}

func (b *fakeBackend) TryAcquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, held := b.holders[name]; held {
		return "", false, nil
	}
	token := "tok-" + name
	b.holders[name] = token
	return token, true, nil
}

func (b *fakeBackend) Renew(ctx context.Context, name, token string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.renewFail {
		return assertErr
	}
	if b.holders[name] != token {
		return assertErr
	}
	return nil
}

func (b *fakeBackend) Release(ctx context.Context, name, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holders[name] == token {
		delete(b.holders, name)
	}
	return nil
}

var assertErr = assertError("fake backend error")

type assertError string

func (e assertError) Error() string { return string(e) }

func retryForever() retry.Policy {
	return retry.Policy{Base: time.Millisecond, Cap: 10 * time.Millisecond, MaxAttempts: 50, Classify: func(error) bool { return true }}
}

func TestManagerTryAcquireAndRelease(t *testing.T) {
	backend := newFakeBackend()
	mgr := lockmanager.NewManager(backend, retryForever())
	ctx := context.Background()

	lease, err := mgr.TryAcquire(ctx, "run", time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease)

	_, err = mgr.TryAcquire(ctx, "run", time.Second)
	assert.ErrorIs(t, err, lockmanager.ErrNotAcquired)

	require.NoError(t, mgr.Release(ctx, lease))

	lease2, err := mgr.TryAcquire(ctx, "run", time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease2)
	require.NoError(t, mgr.Release(ctx, lease2))
}

func TestManagerAcquireRetriesUntilFree(t *testing.T) {
	backend := newFakeBackend()
	mgr := lockmanager.NewManager(backend, retryForever())
	ctx := context.Background()

	held, err := mgr.TryAcquire(ctx, "orders.audit_logs", time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = mgr.Release(ctx, held)
	}()

	waited, err := mgr.Acquire(ctx, "orders.audit_logs", time.Second)
	require.NoError(t, err)
	require.NotNil(t, waited)
	require.NoError(t, mgr.Release(ctx, waited))
}

func TestLeaseLostClosesOnRenewFailure(t *testing.T) {
	backend := newFakeBackend()
	mgr := lockmanager.NewManager(backend, retryForever())
	ctx := context.Background()

	lease, err := mgr.TryAcquire(ctx, "orders.audit_logs", 20*time.Millisecond)
	require.NoError(t, err)

	backend.mu.Lock()
	backend.renewFail = true
	backend.mu.Unlock()

	select {
	case <-lease.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("lease was not marked lost after renew kept failing")
	}
}
