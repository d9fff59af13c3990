package restore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/labsbykora/audit-table-archiver/pkg/objectstore"
)

// objectStoreClient is the subset of *objectstore.Client progress
// persistence needs.
type objectStoreClient interface {
	Get(ctx context.Context, key string) ([]byte, error)
	PutStream(ctx context.Context, key string, data []byte, metadata map[string]string, storageClass, sseOption string) error
}

// ProgressStore persists the restore watermark alongside the archive
// under the same prefix, distinct from pkg/watermark's archive-side
// cursor.
type ProgressStore struct {
	client objectStoreClient
	prefix string
}

// NewProgressStore constructs a ProgressStore rooted at prefix (the
// same bucket prefix the archive itself uses).
func NewProgressStore(client objectStoreClient, prefix string) *ProgressStore {
	return &ProgressStore{client: client, prefix: prefix}
}

func (s *ProgressStore) key(database, schema, table string) string {
	return fmt.Sprintf("%s/%s/%s/%s/_restore_progress.json", s.prefix, database, schema, table)
}

// Load returns the stored Progress, or the zero value if none exists
// yet.
func (s *ProgressStore) Load(ctx context.Context, database, schema, table string) (Progress, error) {
	data, err := s.client.Get(ctx, s.key(database, schema, table))
	if err != nil {
		if objectstore.IsNotFound(err) {
			return Progress{}, nil
		}
		return Progress{}, fmt.Errorf("restore: load progress: %w", err)
	}
	return decodeProgress(data)
}

// Save persists p.
func (s *ProgressStore) Save(ctx context.Context, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("restore: encode progress: %w", err)
	}
	return s.client.PutStream(ctx, s.key(p.Database, p.Schema, p.Table), data, nil, "STANDARD", "none")
}
