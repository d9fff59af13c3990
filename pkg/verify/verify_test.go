package verify_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/pkg/verify"
)

func TestCheckCountsRequiresAllThreeEqual(t *testing.T) {
	assert.NoError(t, verify.CheckCounts(verify.Counts{NDB: 10, NStream: 10, NObject: 10}))
	assert.Error(t, verify.CheckCounts(verify.Counts{NDB: 10, NStream: 9, NObject: 10}))
	assert.Error(t, verify.CheckCounts(verify.Counts{NDB: 10, NStream: 10, NObject: 11}))
}

func TestCheckChecksumMismatch(t *testing.T) {
	assert.NoError(t, verify.CheckChecksum("abc", "abc"))
	assert.Error(t, verify.CheckChecksum("abc", "def"))
	assert.Error(t, verify.CheckChecksum("", "def"))
}

func TestHashPrimaryKeysIsOrderIndependent(t *testing.T) {
	a, err := verify.HashPrimaryKeys([][]interface{}{{int64(1)}, {int64(2)}, {int64(3)}})
	require.NoError(t, err)
	b, err := verify.HashPrimaryKeys([][]interface{}{{int64(3)}, {int64(1)}, {int64(2)}})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildDeletionManifestAndCheckEquality(t *testing.T) {
	pks := [][]interface{}{{int64(1)}, {int64(2)}}
	manifest, err := verify.BuildDeletionManifest("orders_db", "audit_logs", "fp-1", pks, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, manifest.PrimaryKeyHash)

	assert.NoError(t, verify.CheckPrimaryKeySetEquality(pks, [][]interface{}{{int64(2)}, {int64(1)}}))
	assert.Error(t, verify.CheckPrimaryKeySetEquality(pks, [][]interface{}{{int64(1)}}))
}

func TestSampleSizeBounds(t *testing.T) {
	assert.Equal(t, 10, verify.SampleSize(50))
	assert.Equal(t, 5, verify.SampleSize(5))
	assert.Equal(t, 1000, verify.SampleSize(500000))
	assert.Equal(t, 100, verify.SampleSize(10000))
}

func TestSamplePrimaryKeysReturnsRequestedCount(t *testing.T) {
	pks := make([][]interface{}, 5000)
	for i := range pks {
		pks[i] = []interface{}{int64(i)}
	}
	sample := verify.SamplePrimaryKeys(rand.New(rand.NewSource(1)), pks)
	assert.Len(t, sample, verify.SampleSize(len(pks)))
}

type fakeExistenceChecker struct {
	found bool
	err   error
}

func (f fakeExistenceChecker) AnyExist(ctx context.Context, pks [][]interface{}) (bool, error) {
	return f.found, f.err
}

func TestCheckSampleAbsenceFlagsAHit(t *testing.T) {
	sample := [][]interface{}{{int64(1)}}
	assert.NoError(t, verify.CheckSampleAbsence(context.Background(), fakeExistenceChecker{found: false}, sample))
	assert.Error(t, verify.CheckSampleAbsence(context.Background(), fakeExistenceChecker{found: true}, sample))
	assert.NoError(t, verify.CheckSampleAbsence(context.Background(), fakeExistenceChecker{found: true}, nil))
}
