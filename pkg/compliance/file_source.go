package compliance

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/labsbykora/audit-table-archiver/internal/sync2"
)

// fileHoldEntry is one row of the static hold file.
type fileHoldEntry struct {
	Database  string        `yaml:"database"`
	Schema    string        `yaml:"schema"`
	Table     string        `yaml:"table"`
	TableHold bool          `yaml:"table_hold"`
	PKColumn  string        `yaml:"pk_column"`
	PKValues  []interface{} `yaml:"pk_values"`
}

// FileHoldSource reloads a static YAML (or JSON, a subset of YAML) file
// of legal holds on a fixed cycle, so operators can edit the file
// without restarting the archiver.
type FileHoldSource struct {
	path string

	mu      sync.RWMutex
	byTable map[string]fileHoldEntry
}

// NewFileHoldSource reads path once synchronously (returning an error
// if it cannot be parsed) before returning, so a broken hold file
// fails a run at startup rather than silently disabling hold checks.
func NewFileHoldSource(path string) (*FileHoldSource, error) {
	s := &FileHoldSource{path: path, byTable: make(map[string]fileHoldEntry)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// StartReloading begins reloading the file every interval until ctx
// is cancelled. A failed reload is passed to onError (when non-nil)
// and does not stop the cycle; the last good set of holds stays in
// effect.
func (s *FileHoldSource) StartReloading(ctx context.Context, group *errgroup.Group, interval time.Duration, onError func(error)) {
	cycle := sync2.NewCycle(interval)
	cycle.Start(ctx, group, func(ctx context.Context) error {
		if err := s.reload(); err != nil && onError != nil {
			onError(err)
		}
		return nil
	})
}

func (s *FileHoldSource) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("compliance: read hold file %s: %w", s.path, err)
	}
	var entries []fileHoldEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("compliance: parse hold file %s: %w", s.path, err)
	}

	byTable := make(map[string]fileHoldEntry, len(entries))
	for _, e := range entries {
		byTable[holdKey(e.Database, e.Schema, e.Table)] = e
	}

	s.mu.Lock()
	s.byTable = byTable
	s.mu.Unlock()
	return nil
}

func holdKey(database, schema, table string) string {
	return database + "/" + schema + "/" + table
}

func (s *FileHoldSource) LookupHold(ctx context.Context, database, schema, table string) (*Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byTable[holdKey(database, schema, table)]
	if !ok {
		return nil, nil
	}
	return &Hold{TableHold: entry.TableHold, PKColumn: entry.PKColumn, PKValues: entry.PKValues}, nil
}
