package audit_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/pkg/audit"
)

type fakeObjectClient struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectClient() *fakeObjectClient {
	return &fakeObjectClient{objects: make(map[string][]byte)}
}

func (f *fakeObjectClient) Put(ctx context.Context, key string, data []byte, metadata map[string]string, storageClass, sseOption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func TestObjectStoreSinkPartitionsByDate(t *testing.T) {
	client := newFakeObjectClient()
	sink := audit.NewObjectStoreSink(client, "archive")

	event := audit.Event{
		Timestamp: time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
		Kind:      audit.KindArchiveBatchSuccess,
		Database:  "orders_db",
		Status:    "success",
	}
	require.NoError(t, sink.Write(context.Background(), event))

	var key string
	for k := range client.objects {
		key = k
	}
	assert.True(t, strings.HasPrefix(key, "archive/audit/year=2026/month=03/day=15/"))
	assert.True(t, strings.HasSuffix(key, "_ARCHIVE_BATCH_SUCCESS.json"))
}

type failingSink struct{ err error }

func (f failingSink) Write(ctx context.Context, event audit.Event) error { return f.err }

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Write(ctx context.Context, event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func TestMultiSinkWritesToAllAndSurfacesFirstError(t *testing.T) {
	good := &recordingSink{}
	bad := failingSink{err: assertErr}
	multi := audit.NewMultiSink(good, bad)

	err := multi.Write(context.Background(), audit.Event{Kind: audit.KindArchiveStart})
	require.Error(t, err)
	assert.Len(t, good.events, 1)
}

var assertErr = assertError("sink unavailable")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestEmitterFillsTimestampAndActor(t *testing.T) {
	sink := &recordingSink{}
	emitter := audit.NewEmitter(sink, "table-orchestrator")

	require.NoError(t, emitter.Emit(context.Background(), audit.Event{Kind: audit.KindSkipLegalHold}))

	require.Len(t, sink.events, 1)
	assert.Equal(t, "table-orchestrator", sink.events[0].Actor)
	assert.False(t, sink.events[0].Timestamp.IsZero())
}
