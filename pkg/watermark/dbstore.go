package watermark

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/labsbykora/audit-table-archiver/internal/migrate"
)

// DBStore is the optional DB-table-backed watermark/checkpoint
// backend, used in addition to the object-store-keyed one.
// Callers create the schema with Migration() before first use.
type DBStore struct {
	db *sql.DB
}

// NewDBStore wraps db. The caller is responsible for running
// Migration() against it once at startup.
func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db}
}

const watermarksDDL = `
CREATE TABLE archiver_watermarks (
	database TEXT NOT NULL,
	schema_name TEXT NOT NULL,
	table_name TEXT NOT NULL,
	max_ts TIMESTAMPTZ NOT NULL,
	max_pk JSONB NOT NULL,
	cumulative_rows BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (database, schema_name, table_name)
)`

const checkpointsDDL = `
CREATE TABLE archiver_checkpoints (
	database TEXT NOT NULL,
	schema_name TEXT NOT NULL,
	table_name TEXT NOT NULL,
	watermark JSONB NOT NULL,
	committed_fingerprints JSONB NOT NULL,
	open_multipart JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (database, schema_name, table_name)
)`

var postgresBindVar = regexp.MustCompile(`\?`)

// rebindPostgres turns `?`-placeholder SQL into Postgres's `$1, $2,
// ...` bind-parameter syntax, for migrate.CreateTable.
func rebindPostgres(query string) string {
	n := 0
	return postgresBindVar.ReplaceAllStringFunc(query, func(string) string {
		n++
		return "$" + strconv.Itoa(n)
	})
}

// Migration creates the watermark and checkpoint tables if they do
// not already exist.
func Migration(db *sql.DB) error {
	if err := migrate.CreateTable(db, rebindPostgres, "archiver_watermarks", watermarksDDL); err != nil {
		return err
	}
	return migrate.CreateTable(db, rebindPostgres, "archiver_checkpoints", checkpointsDDL)
}

// LoadWatermark returns nil, nil if no row exists for this table yet.
func (s *DBStore) LoadWatermark(ctx context.Context, database, schema, table string) (*Watermark, error) {
	var wm Watermark
	var maxPK []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT database, schema_name, table_name, max_ts, max_pk, cumulative_rows, updated_at
		FROM archiver_watermarks WHERE database = $1 AND schema_name = $2 AND table_name = $3
	`, database, schema, table).Scan(&wm.Database, &wm.Schema, &wm.Table, &wm.MaxTS, &maxPK, &wm.CumulativeRows, &wm.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("watermark: load %s/%s/%s: %w", database, schema, table, err)
	}
	if err := json.Unmarshal(maxPK, &wm.MaxPK); err != nil {
		return nil, fmt.Errorf("watermark: decode max_pk: %w", err)
	}
	return &wm, nil
}

// SaveWatermark upserts wm.
func (s *DBStore) SaveWatermark(ctx context.Context, wm *Watermark) error {
	maxPK, err := json.Marshal(wm.MaxPK)
	if err != nil {
		return fmt.Errorf("watermark: encode max_pk: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO archiver_watermarks (database, schema_name, table_name, max_ts, max_pk, cumulative_rows, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (database, schema_name, table_name) DO UPDATE SET
			max_ts = EXCLUDED.max_ts,
			max_pk = EXCLUDED.max_pk,
			cumulative_rows = EXCLUDED.cumulative_rows,
			updated_at = EXCLUDED.updated_at
	`, wm.Database, wm.Schema, wm.Table, wm.MaxTS, maxPK, wm.CumulativeRows, wm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("watermark: save %s/%s/%s: %w", wm.Database, wm.Schema, wm.Table, err)
	}
	return nil
}

// LoadCheckpoint returns nil, nil if no checkpoint row exists.
func (s *DBStore) LoadCheckpoint(ctx context.Context, database, schema, table string) (*Checkpoint, error) {
	var cp Checkpoint
	var watermarkJSON, fingerprintsJSON []byte
	var openMultipart []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT watermark, committed_fingerprints, open_multipart, created_at
		FROM archiver_checkpoints WHERE database = $1 AND schema_name = $2 AND table_name = $3
	`, database, schema, table).Scan(&watermarkJSON, &fingerprintsJSON, &openMultipart, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("watermark: load checkpoint %s/%s/%s: %w", database, schema, table, err)
	}
	if err := json.Unmarshal(watermarkJSON, &cp.Watermark); err != nil {
		return nil, fmt.Errorf("watermark: decode checkpoint watermark: %w", err)
	}
	if err := json.Unmarshal(fingerprintsJSON, &cp.CommittedFingerprints); err != nil {
		return nil, fmt.Errorf("watermark: decode checkpoint fingerprints: %w", err)
	}
	cp.OpenMultipart = openMultipart
	return &cp, nil
}

// SaveCheckpoint upserts cp.
func (s *DBStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	watermarkJSON, err := json.Marshal(cp.Watermark)
	if err != nil {
		return fmt.Errorf("watermark: encode checkpoint watermark: %w", err)
	}
	fingerprintsJSON, err := json.Marshal(cp.CommittedFingerprints)
	if err != nil {
		return fmt.Errorf("watermark: encode checkpoint fingerprints: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO archiver_checkpoints (database, schema_name, table_name, watermark, committed_fingerprints, open_multipart, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (database, schema_name, table_name) DO UPDATE SET
			watermark = EXCLUDED.watermark,
			committed_fingerprints = EXCLUDED.committed_fingerprints,
			open_multipart = EXCLUDED.open_multipart,
			created_at = EXCLUDED.created_at
	`, cp.Watermark.Database, cp.Watermark.Schema, cp.Watermark.Table, watermarkJSON, fingerprintsJSON, []byte(cp.OpenMultipart), cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("watermark: save checkpoint %s/%s/%s: %w", cp.Watermark.Database, cp.Watermark.Schema, cp.Watermark.Table, err)
	}
	return nil
}

// ClearCheckpoint deletes the checkpoint row for a table on clean
// completion.
func (s *DBStore) ClearCheckpoint(ctx context.Context, database, schema, table string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM archiver_checkpoints WHERE database = $1 AND schema_name = $2 AND table_name = $3
	`, database, schema, table)
	if err != nil {
		return fmt.Errorf("watermark: clear checkpoint %s/%s/%s: %w", database, schema, table, err)
	}
	return nil
}

// GCCheckpoints deletes every checkpoint row older than cutoff.
func (s *DBStore) GCCheckpoints(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM archiver_checkpoints WHERE created_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("watermark: gc checkpoints: %w", err)
	}
	return nil
}
