package compliance_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/pkg/compliance"
)

type staticHoldSource struct {
	hold *compliance.Hold
}

func (s staticHoldSource) LookupHold(ctx context.Context, database, schema, table string) (*compliance.Hold, error) {
	return s.hold, nil
}

func fixedBounds(min, max int) func(string) compliance.RetentionBounds {
	return func(string) compliance.RetentionBounds { return compliance.RetentionBounds{MinDays: min, MaxDays: max} }
}

func TestGateBlocksOnTableHold(t *testing.T) {
	gate := compliance.NewGate(staticHoldSource{hold: &compliance.Hold{TableHold: true}}, fixedBounds(30, 3650), true)

	decision, err := gate.Evaluate(context.Background(), compliance.TableProfile{RetentionDays: 90})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "legal hold")
}

func TestGateBlocksOnRetentionOutOfBounds(t *testing.T) {
	gate := compliance.NewGate(staticHoldSource{}, fixedBounds(30, 3650), true)

	decision, err := gate.Evaluate(context.Background(), compliance.TableProfile{RetentionDays: 10})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "retention")
}

func TestGateBlocksCriticalTableWithoutEncryption(t *testing.T) {
	gate := compliance.NewGate(staticHoldSource{}, fixedBounds(30, 3650), true)

	decision, err := gate.Evaluate(context.Background(), compliance.TableProfile{
		RetentionDays: 90, Critical: true, SSEOption: "none",
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "encryption")
}

func TestGateAllowsAndSurfacesRecordHold(t *testing.T) {
	recordHold := &compliance.Hold{PKColumn: "id", PKValues: []interface{}{1, 2, 3}}
	gate := compliance.NewGate(staticHoldSource{hold: recordHold}, fixedBounds(30, 3650), true)

	decision, err := gate.Evaluate(context.Background(), compliance.TableProfile{
		RetentionDays: 90, Critical: true, SSEOption: "sse-s3",
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	require.NotNil(t, decision.RecordHold)
	assert.Equal(t, "id", decision.RecordHold.PKColumn)
}
