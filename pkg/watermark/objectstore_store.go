package watermark

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/labsbykora/audit-table-archiver/pkg/objectstore"
)

// objectStoreClient is the subset of objectstore.Client this package
// depends on.
type objectStoreClient interface {
	Get(ctx context.Context, key string) ([]byte, error)
	ConditionalPut(ctx context.Context, key string, expectAbsent bool, merge func(existing []byte) ([]byte, error)) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]objectstore.Info, error)
}

// ObjectStoreStore is the primary watermark/checkpoint backend: one
// well-known object per table
// ("<prefix>/<db>/<schema>/<table>/_watermark.json").
type ObjectStoreStore struct {
	client objectStoreClient
	prefix string
}

// NewObjectStoreStore returns a Store rooted at prefix (the
// archiver's configured object-key prefix).
func NewObjectStoreStore(client objectStoreClient, prefix string) *ObjectStoreStore {
	return &ObjectStoreStore{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

func (s *ObjectStoreStore) tableKey(database, schema, table, suffix string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", s.prefix, database, schema, table, suffix)
}

// LoadWatermark returns nil, nil if the table has never archived a
// batch yet.
func (s *ObjectStoreStore) LoadWatermark(ctx context.Context, database, schema, table string) (*Watermark, error) {
	data, err := s.client.Get(ctx, s.tableKey(database, schema, table, "_watermark.json"))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("watermark: load %s/%s/%s: %w", database, schema, table, err)
	}
	var wm Watermark
	if err := unwrap(data, &wm); err != nil {
		return nil, fmt.Errorf("watermark: load %s/%s/%s: %w", database, schema, table, err)
	}
	return &wm, nil
}

// SaveWatermark conditionally overwrites the watermark object,
// retrying the read-merge-write if a concurrent writer raced it.
func (s *ObjectStoreStore) SaveWatermark(ctx context.Context, wm *Watermark) error {
	key := s.tableKey(wm.Database, wm.Schema, wm.Table, "_watermark.json")
	return s.client.ConditionalPut(ctx, key, false, func(existing []byte) ([]byte, error) {
		return wrap(wm)
	})
}

// LoadCheckpoint returns nil, nil if no checkpoint is pending.
func (s *ObjectStoreStore) LoadCheckpoint(ctx context.Context, database, schema, table string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.tableKey(database, schema, table, "_checkpoint.json"))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("watermark: load checkpoint %s/%s/%s: %w", database, schema, table, err)
	}
	var cp Checkpoint
	if err := unwrap(data, &cp); err != nil {
		return nil, fmt.Errorf("watermark: load checkpoint %s/%s/%s: %w", database, schema, table, err)
	}
	return &cp, nil
}

// SaveCheckpoint writes cp, overwriting any prior checkpoint for this
// table.
func (s *ObjectStoreStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	key := s.tableKey(cp.Watermark.Database, cp.Watermark.Schema, cp.Watermark.Table, "_checkpoint.json")
	return s.client.ConditionalPut(ctx, key, false, func(existing []byte) ([]byte, error) {
		return wrap(cp)
	})
}

// ClearCheckpoint removes a table's checkpoint on clean completion.
func (s *ObjectStoreStore) ClearCheckpoint(ctx context.Context, database, schema, table string) error {
	if err := s.client.Delete(ctx, s.tableKey(database, schema, table, "_checkpoint.json")); err != nil && !isNotFound(err) {
		return fmt.Errorf("watermark: clear checkpoint %s/%s/%s: %w", database, schema, table, err)
	}
	return nil
}

// GCCheckpoints lists every checkpoint object under the configured
// prefix and removes those older than cutoff.
func (s *ObjectStoreStore) GCCheckpoints(ctx context.Context, cutoff time.Time) error {
	infos, err := s.client.List(ctx, s.prefix)
	if err != nil {
		return fmt.Errorf("watermark: list for gc: %w", err)
	}
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, "_checkpoint.json") {
			continue
		}
		data, err := s.client.Get(ctx, info.Key)
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := unwrap(data, &cp); err != nil {
			continue
		}
		if cp.CreatedAt.Before(cutoff) {
			_ = s.client.Delete(ctx, info.Key)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return objectstore.IsNotFound(err)
}
