package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackSaveLoadRemove(t *testing.T) {
	fb, err := NewFallback(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = fb.Close() }()

	payload := []byte("row-bytes-that-failed-to-upload")
	require.NoError(t, fb.Save("orders_db/audit_logs/2026-01-02/batch-1.ndjson.gz", payload))

	keys, err := fb.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"orders_db/audit_logs/2026-01-02/batch-1.ndjson.gz"}, keys)

	got, err := fb.Load("orders_db/audit_logs/2026-01-02/batch-1.ndjson.gz")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, fb.Remove("orders_db/audit_logs/2026-01-02/batch-1.ndjson.gz"))
	keys, err = fb.List()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFallbackLoadMissingKeyErrors(t *testing.T) {
	fb, err := NewFallback(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = fb.Close() }()

	_, err = fb.Load("never-saved")
	assert.Error(t, err)
}
