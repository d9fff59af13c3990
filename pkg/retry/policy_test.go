package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/pkg/retry"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	p := retry.Default(func(error) bool { return true })
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	p := retry.Policy{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxAttempts: 5, Classify: func(error) bool { return true }}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentClassification(t *testing.T) {
	p := retry.Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 10, Classify: func(error) bool { return false }}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	p := retry.Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 3, Classify: func(error) bool { return true }}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	p := retry.Policy{Base: 50 * time.Millisecond, Cap: time.Second, MaxAttempts: 10, Classify: func(error) bool { return true }}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.GreaterOrEqual(t, calls, 1)
}
