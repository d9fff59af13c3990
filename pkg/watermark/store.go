package watermark

import (
	"context"
	"time"
)

// Store is implemented by both the object-store-backed and the
// DB-table-backed watermark backends. Table identity is always
// (database, schema, table).
type Store interface {
	LoadWatermark(ctx context.Context, database, schema, table string) (*Watermark, error)
	SaveWatermark(ctx context.Context, wm *Watermark) error

	LoadCheckpoint(ctx context.Context, database, schema, table string) (*Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	ClearCheckpoint(ctx context.Context, database, schema, table string) error

	// GCCheckpoints removes checkpoints older than cutoff across every
	// table this Store knows about.
	GCCheckpoints(ctx context.Context, cutoff time.Time) error
}
