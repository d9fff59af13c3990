package sync2_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/labsbykora/audit-table-archiver/internal/sync2"
)

func TestKeyLockBasicLockUnlock(t *testing.T) {
	kl := sync2.NewKeyLock()

	unlock := kl.Lock("public.audit_logs")
	unlock()

	runlock := kl.RLock("public.audit_logs")
	runlock()
}

func TestKeyLockSerializesSameKey(t *testing.T) {
	kl := sync2.NewKeyLock()
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("public.audit_logs")
			defer unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, order, 5)
}

func TestKeyLockDistinctKeysDoNotContend(t *testing.T) {
	kl := sync2.NewKeyLock()
	unlockA := kl.Lock("db1.table1")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := kl.Lock("db2.table2")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated key contended on an already-held lock")
	}
}

func BenchmarkKeyLock(b *testing.B) {
	kl := sync2.NewKeyLock()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		unlock := kl.Lock(i)
		unlock()
	}
}
