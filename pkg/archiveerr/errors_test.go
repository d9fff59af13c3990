package archiveerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/pkg/archiveerr"
)

func TestWrapCarriesClassAndContext(t *testing.T) {
	ctx := archiveerr.Context{
		Database:     "billing",
		Schema:       "public",
		Table:        "audit_logs",
		BatchOrdinal: 3,
		Fingerprint:  "abc123",
		Phase:        "Deleting",
	}

	wrapped := archiveerr.Wrap(&archiveerr.BatchPermanent, ctx, errors.New("count mismatch"))
	require.Error(t, wrapped)

	assert.True(t, archiveerr.BatchPermanent.Has(wrapped))
	assert.True(t, archiveerr.IsPermanent(wrapped))
	assert.False(t, archiveerr.IsTransient(wrapped))
	assert.Contains(t, wrapped.Error(), "table=audit_logs")
	assert.Contains(t, wrapped.Error(), "phase=Deleting")
	assert.Contains(t, wrapped.Error(), "count mismatch")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, archiveerr.Wrap(&archiveerr.Warning, archiveerr.Context{}, nil))
}

func TestPromoteTransientToTableError(t *testing.T) {
	ctx := archiveerr.Context{Table: "audit_logs", Phase: "Fetching"}
	transient := archiveerr.Wrap(&archiveerr.BatchTransient, ctx, errors.New("deadlock detected"))
	require.True(t, archiveerr.IsTransient(transient))

	promoted := archiveerr.Promote(ctx, transient)
	assert.True(t, archiveerr.TableErr.Has(promoted))
	assert.True(t, archiveerr.IsPermanent(promoted))
}

func TestClassesAreDisjointByDesign(t *testing.T) {
	warn := archiveerr.Wrap(&archiveerr.Warning, archiveerr.Context{}, errors.New("schema drift"))
	assert.False(t, archiveerr.IsTransient(warn))
	assert.False(t, archiveerr.IsPermanent(warn))
}
