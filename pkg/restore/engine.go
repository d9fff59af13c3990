package restore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/labsbykora/audit-table-archiver/internal/dbutil/dbschema"
	"github.com/labsbykora/audit-table-archiver/pkg/audit"
	"github.com/labsbykora/audit-table-archiver/pkg/codec"
	"github.com/labsbykora/audit-table-archiver/pkg/objectstore"
	"github.com/labsbykora/audit-table-archiver/pkg/pipeline"
	"github.com/labsbykora/audit-table-archiver/pkg/verify"
)

// objectGetter is the subset of *objectstore.Client the Restore Engine
// reads archived objects through.
type objectGetter interface {
	List(ctx context.Context, prefix string) ([]objectstore.Info, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// schemaIntrospector is the subset of *sourcedb.Database schema
// reconciliation needs.
type schemaIntrospector interface {
	Introspect(schemaName, tableName string) (*dbschema.Table, string, error)
}

// auditEmitter is the subset of *audit.Sink the Restore Engine uses.
type auditEmitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// rowLoader is the subset of *BulkLoader the Restore Engine drives.
type rowLoader interface {
	Load(ctx context.Context, target Target, table *dbschema.Table, rows []codec.Row) (int64, error)
}

// Engine drives one restore from archived objects back into a live
// table: list, filter by watermark, decode, verify, reconcile, load.
type Engine struct {
	objects  objectGetter
	schema   schemaIntrospector
	loader   rowLoader
	progress *ProgressStore
	emitter  auditEmitter
	log      *zap.Logger
}

// NewEngine wires an Engine from its narrow collaborators.
func NewEngine(objects objectGetter, schema schemaIntrospector, loader rowLoader, progress *ProgressStore, emitter auditEmitter, log *zap.Logger) *Engine {
	return &Engine{objects: objects, schema: schema, loader: loader, progress: progress, emitter: emitter, log: log.Named("restore")}
}

// Restore lists the objects matching target, filters out any already
// restored per the stored watermark, and loads the remainder into the
// target table under target.Conflict and target.SchemaStrategyChoice.
func (e *Engine) Restore(ctx context.Context, prefix string, target Target) (Report, error) {
	var report Report

	_ = e.emitter.Emit(ctx, audit.Event{
		Timestamp: time.Now().UTC(), Actor: "restore-engine", Kind: audit.KindRestoreStart,
		Database: target.Database, Schema: target.Schema, Table: target.Table, Status: "started",
	})

	keys, err := e.resolveKeys(ctx, prefix, target)
	if err != nil {
		e.fail(ctx, target, err)
		return report, err
	}
	report.ObjectsConsidered = len(keys)

	var watermark Progress
	if !target.IgnoreRestoreWatermark {
		watermark, err = e.progress.Load(ctx, target.Database, target.Schema, target.Table)
		if err != nil {
			e.fail(ctx, target, err)
			return report, err
		}
	}

	table, _, err := e.schema.Introspect(target.Schema, target.Table)
	if err != nil {
		e.fail(ctx, target, err)
		return report, err
	}

	for _, key := range keys {
		if watermark.LastObjectKey != "" && key <= watermark.LastObjectKey {
			report.ObjectsSkipped++
			continue
		}

		restored, skipped, err := e.restoreObject(ctx, key, table, target)
		if err != nil {
			report.RecordsFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", key, err))
			e.log.Warn("restore object failed", zap.String("key", key), zap.Error(err))
			if target.Conflict == ConflictFail {
				e.fail(ctx, target, err)
				return report, err
			}
			continue
		}
		report.RecordsRestored += restored
		report.RecordsSkipped += skipped

		watermark = Progress{Database: target.Database, Schema: target.Schema, Table: target.Table, LastObjectKey: key, LastRestoredAt: time.Now().UTC()}
		if err := e.progress.Save(ctx, watermark); err != nil {
			e.fail(ctx, target, err)
			return report, err
		}
	}

	_ = e.emitter.Emit(ctx, audit.Event{
		Timestamp: time.Now().UTC(), Actor: "restore-engine", Kind: audit.KindRestoreSuccess,
		Database: target.Database, Schema: target.Schema, Table: target.Table, Status: "success",
		RowCount: report.RecordsRestored,
	})
	e.log.Info("restore complete",
		zap.String("database", target.Database), zap.String("table", target.Table),
		zap.Int64("records_restored", report.RecordsRestored), zap.Int("objects_skipped", report.ObjectsSkipped))
	return report, nil
}

func (e *Engine) fail(ctx context.Context, target Target, err error) {
	_ = e.emitter.Emit(ctx, audit.Event{
		Timestamp: time.Now().UTC(), Actor: "restore-engine", Kind: audit.KindRestoreFailure,
		Database: target.Database, Schema: target.Schema, Table: target.Table, Status: "failure",
		ErrorSummary: err.Error(),
	})
}

// resolveKeys returns the sorted object keys a Target selects, either
// directly (ObjectKeys) or by listing the table's prefix and filtering
// to data objects within DateRange.
func (e *Engine) resolveKeys(ctx context.Context, prefix string, target Target) ([]string, error) {
	if len(target.ObjectKeys) > 0 {
		keys := append([]string(nil), target.ObjectKeys...)
		sort.Strings(keys)
		return keys, nil
	}

	listPrefix := fmt.Sprintf("%s/%s/%s/%s/", prefix, target.Database, target.Schema, target.Table)
	infos, err := e.objects.List(ctx, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("restore: list %s: %w", listPrefix, err)
	}

	var keys []string
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, ".jsonl.gz") {
			continue
		}
		if !target.DateRange.From.IsZero() || !target.DateRange.To.IsZero() {
			ts, ok := datePrefixFromKey(info.Key)
			if ok && ((!target.DateRange.From.IsZero() && ts.Before(target.DateRange.From)) ||
				(!target.DateRange.To.IsZero() && ts.After(target.DateRange.To))) {
				continue
			}
		}
		keys = append(keys, info.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// metadataKeyFor derives a data object's co-located MetadataRecord
// sidecar key. The archiver writes both under the same base name, the
// data object suffixed .jsonl.gz and the sidecar _metadata.json (see
// pipeline's dataObjectKey/metadataObjectKey).
func metadataKeyFor(dataKey string) string {
	return strings.TrimSuffix(dataKey, ".jsonl.gz") + "_metadata.json"
}

// datePrefixFromKey extracts the date partition
// (year=YYYY/month=MM/day=DD) the archive path layout stamps into
// every object key, best-effort.
func datePrefixFromKey(key string) (time.Time, bool) {
	parts := strings.Split(key, "/")
	for i := 0; i+2 < len(parts); i++ {
		ts, err := time.Parse("year=2006/month=01/day=02", strings.Join(parts[i:i+3], "/"))
		if err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// restoreObject decodes one archived data object and loads its rows,
// returning the restored and skipped row counts.
func (e *Engine) restoreObject(ctx context.Context, key string, table *dbschema.Table, target Target) (restored, skipped int64, err error) {
	data, err := e.objects.Get(ctx, key)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch object: %w", err)
	}

	metaKey := metadataKeyFor(key)
	metaData, err := e.objects.Get(ctx, metaKey)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch metadata %s: %w", metaKey, err)
	}
	var meta pipeline.MetadataRecord
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return 0, 0, fmt.Errorf("decode metadata %s: %w", metaKey, err)
	}

	reader, err := codec.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("open reader: %w", err)
	}

	var rows []codec.Row
	for {
		var row codec.Row
		if err := reader.ReadRow(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, 0, fmt.Errorf("decode row: %w", err)
		}
		rows = append(rows, row)
	}
	uncompressedSHA256, err := reader.Close()
	if err != nil {
		return 0, 0, fmt.Errorf("close reader: %w", err)
	}
	if err := verify.CheckChecksum(meta.UncompressedSHA256, uncompressedSHA256); err != nil {
		return 0, 0, fmt.Errorf("restore checksum re-validation for %s: %w", key, err)
	}

	reconciled, skippedRows, err := reconcile(rows, table, target.SchemaStrategyChoice)
	if err != nil {
		return 0, 0, fmt.Errorf("reconcile schema: %w", err)
	}

	if len(reconciled) == 0 {
		return 0, int64(skippedRows), nil
	}

	n, err := e.loader.Load(ctx, target, table, reconciled)
	if err != nil {
		return 0, int64(skippedRows), fmt.Errorf("bulk load: %w", err)
	}
	return n, int64(skippedRows), nil
}
