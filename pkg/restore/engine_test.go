package restore_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/labsbykora/audit-table-archiver/internal/dbutil/dbschema"
	"github.com/labsbykora/audit-table-archiver/pkg/audit"
	"github.com/labsbykora/audit-table-archiver/pkg/codec"
	"github.com/labsbykora/audit-table-archiver/pkg/objectstore"
	"github.com/labsbykora/audit-table-archiver/pkg/pipeline"
	"github.com/labsbykora/audit-table-archiver/pkg/restore"
)

// encodeObject returns a data object holding rows and the JSON of the
// MetadataRecord sidecar carrying its uncompressed checksum.
func encodeObject(t *testing.T, rows ...codec.Row) (data, metadata []byte) {
	t.Helper()
	var buf bytes.Buffer
	w, err := codec.NewWriter(&buf, 6)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, w.WriteRow(row, "2026-03-01T00:00:00Z", "fp", "orders_db", "audit_logs"))
	}
	res, err := w.Close()
	require.NoError(t, err)
	metadata, err = json.Marshal(pipeline.MetadataRecord{UncompressedSHA256: res.UncompressedSHA256})
	require.NoError(t, err)
	return buf.Bytes(), metadata
}

func metadataKey(dataKey string) string {
	return strings.TrimSuffix(dataKey, ".jsonl.gz") + "_metadata.json"
}

type fakeObjects struct {
	objects map[string][]byte
	listing []objectstore.Info
}

func (f *fakeObjects) List(ctx context.Context, prefix string) ([]objectstore.Info, error) {
	return f.listing, nil
}

func (f *fakeObjects) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey"}
	}
	return data, nil
}

type fakeIntrospector struct {
	table *dbschema.Table
}

func (f fakeIntrospector) Introspect(schemaName, tableName string) (*dbschema.Table, string, error) {
	return f.table, "hash", nil
}

type fakeLoader struct {
	loaded []codec.Row
}

func (f *fakeLoader) Load(ctx context.Context, target restore.Target, table *dbschema.Table, rows []codec.Row) (int64, error) {
	f.loaded = append(f.loaded, rows...)
	return int64(len(rows)), nil
}

func TestRestoreLoadsObjectsNotPastWatermark(t *testing.T) {
	key1 := "archive/orders_db/public/audit_logs/year=2026/month=03/day=01/audit_logs_20260301T000000Z_batch_001.jsonl.gz"
	key2 := "archive/orders_db/public/audit_logs/year=2026/month=03/day=02/audit_logs_20260302T000000Z_batch_001.jsonl.gz"
	data1, meta1 := encodeObject(t, codec.Row{"id": float64(1), "created_at": "2026-03-01T00:00:00Z"})
	data2, meta2 := encodeObject(t, codec.Row{"id": float64(2), "created_at": "2026-03-02T00:00:00Z"})

	objects := &fakeObjects{
		objects: map[string][]byte{
			key1:              data1,
			metadataKey(key1): meta1,
			key2:              data2,
			metadataKey(key2): meta2,
		},
		listing: []objectstore.Info{{Key: key1}, {Key: key2}},
	}
	table := &dbschema.Table{
		Columns:    []*dbschema.Column{{Name: "id", Type: "bigint"}, {Name: "created_at", Type: "timestamptz"}},
		PrimaryKey: []string{"id"},
	}
	loader := &fakeLoader{}
	progressClient := newFakeProgressClient()
	progress := restore.NewProgressStore(progressClient, "archive")

	engine := restore.NewEngine(objects, fakeIntrospector{table: table}, loader, progress, recordingRestoreEmitter{}, zaptest.NewLogger(t))

	target := restore.Target{Database: "orders_db", Schema: "public", Table: "audit_logs", Conflict: restore.ConflictFail, SchemaStrategyChoice: restore.SchemaLenient}
	report, err := engine.Restore(context.Background(), "archive", target)
	require.NoError(t, err)

	assert.Equal(t, 2, report.ObjectsConsidered)
	assert.Equal(t, int64(2), report.RecordsRestored)
	assert.Len(t, loader.loaded, 2)

	// Re-running should skip both objects: the watermark now covers
	// everything already restored.
	loader.loaded = nil
	report2, err := engine.Restore(context.Background(), "archive", target)
	require.NoError(t, err)
	assert.Equal(t, 2, report2.ObjectsSkipped)
	assert.Empty(t, loader.loaded)
}

type recordingRestoreEmitter struct{}

func (recordingRestoreEmitter) Emit(ctx context.Context, event audit.Event) error { return nil }
