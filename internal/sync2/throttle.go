package sync2

import "sync"

// Throttle coordinates a producer and a consumer sharing a bounded
// amount of in-flight work: the producer blocks until the outstanding
// amount drops below a threshold, and the consumer blocks until there
// is something to consume.
type Throttle struct {
	mu          sync.Mutex
	cond        *sync.Cond
	available   int64
	err         error
}

// NewThrottle returns a ready Throttle with zero available capacity.
func NewThrottle() *Throttle {
	t := &Throttle{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// ProduceAndWaitUntilBelow adds amount to the available capacity, then
// blocks until the available capacity drops below below (as the
// consumer drains it), or the throttle is failed.
func (t *Throttle) ProduceAndWaitUntilBelow(amount, below int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.available += amount
	t.cond.Broadcast()

	for t.available >= below && t.err == nil {
		t.cond.Wait()
	}
	return t.err
}

// ConsumeOrWait blocks until at least one unit of capacity is
// available, consumes up to max units, and returns the amount
// consumed.
func (t *Throttle) ConsumeOrWait(max int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.available <= 0 && t.err == nil {
		t.cond.Wait()
	}
	if t.err != nil {
		return 0, t.err
	}

	consume := t.available
	if consume > max {
		consume = max
	}
	t.available -= consume
	t.cond.Broadcast()
	return consume, nil
}

// Fail marks the throttle as failed with err, releasing every blocked
// producer and consumer.
func (t *Throttle) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
	t.cond.Broadcast()
}

// Err returns the error the throttle was failed with, if any.
func (t *Throttle) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
