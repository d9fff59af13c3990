package sync2

import "sync"

// Fence is a one-shot gate: every call to Wait blocks until Release is
// called once, after which Wait never blocks again.
type Fence struct {
	once    sync.Once
	release chan struct{}
	initOnce sync.Once
}

func (f *Fence) init() {
	f.initOnce.Do(func() {
		f.release = make(chan struct{})
	})
}

// Wait blocks until Release has been called.
func (f *Fence) Wait() {
	f.init()
	<-f.release
}

// Release opens the fence. Safe to call multiple times; only the first
// call has an effect.
func (f *Fence) Release() {
	f.init()
	f.once.Do(func() {
		close(f.release)
	})
}
