// Package sync2 provides the concurrency primitives the archiver's
// chores and pipelines are built on: a periodic Cycle, a concurrency
// Limiter, a per-key mutex (KeyLock), a Throttle for producer/consumer
// rate shaping, and a one-shot Fence.
package sync2

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Cycle implements a periodic loop that can be paused, triggered
// on-demand, and stopped. It drives the Lock Manager's heartbeat and
// the file-based legal-hold source's periodic reload.
type Cycle struct {
	mu       sync.Mutex
	interval time.Duration

	trigger chan chan struct{}
	stopped chan struct{}
	stopOnce sync.Once
	paused   bool

	initOnce sync.Once
}

// NewCycle returns a Cycle that fires every interval once Start is
// called.
func NewCycle(interval time.Duration) *Cycle {
	c := &Cycle{interval: interval}
	c.init()
	return c
}

func (c *Cycle) init() {
	c.initOnce.Do(func() {
		c.trigger = make(chan chan struct{}, 16)
		c.stopped = make(chan struct{})
	})
}

// SetInterval changes the cycle's interval.
func (c *Cycle) SetInterval(interval time.Duration) {
	c.init()
	c.mu.Lock()
	c.interval = interval
	c.mu.Unlock()
}

func (c *Cycle) getInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Pause stops the cycle from firing on its own timer; Trigger and
// TriggerWait still run it on demand.
func (c *Cycle) Pause() {
	c.init()
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Restart un-pauses the cycle so it resumes firing on its own timer.
func (c *Cycle) Restart() {
	c.init()
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Trigger asks the cycle to run once more, without waiting for
// completion.
func (c *Cycle) Trigger() {
	c.init()
	select {
	case c.trigger <- nil:
	default:
	}
}

// TriggerWait asks the cycle to run once more and waits for that run
// to finish.
func (c *Cycle) TriggerWait() {
	c.init()
	done := make(chan struct{})
	c.trigger <- done
	<-done
}

// Start runs fn every interval (or on every Trigger/TriggerWait) until
// ctx is cancelled or Stop is called. Start itself does not block; it
// registers a goroutine on group.
func (c *Cycle) Start(ctx context.Context, group *errgroup.Group, fn func(ctx context.Context) error) {
	c.init()
	group.Go(func() error {
		timer := time.NewTimer(c.timerDuration())
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-c.stopped:
				return nil
			case ack := <-c.trigger:
				err := fn(ctx)
				if ack != nil {
					close(ack)
				}
				if err != nil {
					return err
				}
			case <-timer.C:
				if !c.isPaused() && c.getInterval() > 0 {
					if err := fn(ctx); err != nil {
						return err
					}
				}
				timer.Reset(c.timerDuration())
			}
		}
	})
}

func (c *Cycle) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// timerDuration returns the interval to arm the timer for. A
// non-positive interval parks the timer far in the future so the cycle
// only ever fires via Trigger/TriggerWait, matching a zero-value Cycle
// used purely as an on-demand worker.
func (c *Cycle) timerDuration() time.Duration {
	interval := c.getInterval()
	if interval <= 0 {
		return 24 * time.Hour
	}
	return interval
}

// Stop terminates the cycle's loop. Safe to call multiple times.
func (c *Cycle) Stop() {
	c.init()
	c.stopOnce.Do(func() {
		close(c.stopped)
	})
}

// Close is an alias for Stop, for symmetry with resources that close.
func (c *Cycle) Close() {
	c.Stop()
}
