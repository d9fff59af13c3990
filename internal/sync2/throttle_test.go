package sync2_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/internal/sync2"
)

// TestThrottleProducerConsumer models the multipart-upload submitter
// (producer) feeding parts to the network sender (consumer) while
// staying within a bounded amount of in-flight bytes.
func TestThrottleProducerConsumer(t *testing.T) {
	throttle := sync2.NewThrottle()
	var wg sync.WaitGroup
	wg.Add(2)

	var totalConsumed int64
	go func() {
		defer wg.Done()
		for {
			n, err := throttle.ConsumeOrWait(8)
			if err != nil {
				return
			}
			totalConsumed += n
		}
	}()

	go func() {
		defer wg.Done()
		for total := int64(0); total < 64; total += 8 {
			if err := throttle.ProduceAndWaitUntilBelow(8, 24); err != nil {
				return
			}
		}
		// Fail releases the consumer at once and discards whatever it has
		// not yet consumed, so wait for the last parts to drain first.
		if err := throttle.ProduceAndWaitUntilBelow(0, 1); err != nil {
			return
		}
		throttle.Fail(errors.New("done producing"))
	}()

	wg.Wait()
	assert.Equal(t, int64(64), totalConsumed)
	assert.EqualError(t, throttle.Err(), "done producing")
}

func TestThrottleConsumeBlocksUntilProduced(t *testing.T) {
	throttle := sync2.NewThrottle()

	consumed := make(chan int64, 1)
	go func() {
		n, err := throttle.ConsumeOrWait(100)
		require.NoError(t, err)
		consumed <- n
	}()

	select {
	case <-consumed:
		t.Fatal("consumed before anything was produced")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, throttle.ProduceAndWaitUntilBelow(10, 1000))

	select {
	case n := <-consumed:
		assert.Equal(t, int64(10), n)
	case <-time.After(time.Second):
		t.Fatal("consumer never unblocked after production")
	}
}

func TestThrottleFailReleasesBlockedProducerAndConsumer(t *testing.T) {
	throttle := sync2.NewThrottle()

	producerErr := make(chan error, 1)
	go func() {
		// below=0 is never reached (capacity never goes negative), so the
		// producer blocks until the throttle is failed.
		producerErr <- throttle.ProduceAndWaitUntilBelow(5, 0)
	}()

	time.Sleep(10 * time.Millisecond)
	throttle.Fail(errors.New("aborted"))

	assert.EqualError(t, <-producerErr, "aborted")

	_, err := throttle.ConsumeOrWait(1)
	assert.EqualError(t, err, "aborted")
}
