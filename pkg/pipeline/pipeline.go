package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/labsbykora/audit-table-archiver/pkg/archiveerr"
	"github.com/labsbykora/audit-table-archiver/pkg/audit"
	"github.com/labsbykora/audit-table-archiver/pkg/codec"
	"github.com/labsbykora/audit-table-archiver/pkg/objectstore"
	"github.com/labsbykora/audit-table-archiver/pkg/sourcedb"
	"github.com/labsbykora/audit-table-archiver/pkg/verify"
	"github.com/labsbykora/audit-table-archiver/pkg/watermark"
)

// sourceDatabase is the subset of *sourcedb.Database RunBatch drives.
type sourceDatabase interface {
	BeginBatch(ctx context.Context, spec sourcedb.BatchSpec) (*sourcedb.Batch, error)
	DeleteBatch(ctx context.Context, tx *sql.Tx, spec sourcedb.BatchSpec, pks [][]interface{}) error
	AnyExist(ctx context.Context, schemaName, tableName string, pkColumns []string, pks [][]interface{}) (bool, error)
}

// objectStoreClient is the subset of *objectstore.Client RunBatch
// drives.
type objectStoreClient interface {
	PutStream(ctx context.Context, key string, data []byte, metadata map[string]string, storageClass, sseOption string) error
	PutStreamResumable(ctx context.Context, key string, data []byte, metadata map[string]string, storageClass, sseOption string, resume *objectstore.MultipartState, persist func(*objectstore.MultipartState) error) (*objectstore.MultipartState, error)
	Head(ctx context.Context, key string) (objectstore.Info, error)
	ConditionalPut(ctx context.Context, key string, expectAbsent bool, merge func(existing []byte) ([]byte, error)) error
}

// auditEmitter is the subset of *audit.Emitter RunBatch drives.
type auditEmitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Config tunes one Pipeline instance.
type Config struct {
	ObjectPrefix     string
	CompressionLevel int
	SampleCheckMin   int
	SampleCheckMax   int
	SampleCheckFraction float64
}

// Pipeline is one table's Batch Pipeline. It is not safe for
// concurrent use: exactly one batch runs at a time, and it exclusively
// owns the current open transaction for the table it archives.
type Pipeline struct {
	db       sourceDatabase
	store    objectStoreClient
	wm       watermark.Store
	emitter  auditEmitter
	cfg      Config
	rnd      *rand.Rand
	log      *zap.Logger
	state    State
}

// New constructs a Pipeline. rnd drives sample-absence selection;
// pass a per-process shared *rand.Rand (not seeded per call) so sample
// selection is not predictable across tables.
func New(db sourceDatabase, store objectStoreClient, wm watermark.Store, emitter auditEmitter, cfg Config, rnd *rand.Rand, log *zap.Logger) *Pipeline {
	return &Pipeline{db: db, store: store, wm: wm, emitter: emitter, cfg: cfg, rnd: rnd, log: log.Named("pipeline"), state: StateIdle}
}

// State reports the pipeline's current position, for /health.
func (p *Pipeline) State() State {
	return p.state
}

// RunBatch executes one full batch: Planning through Advancing, or
// Aborting on any failure before Committing. batchOrdinal and
// batchSize come from the Table Orchestrator's adaptive sizer.
func (p *Pipeline) RunBatch(ctx context.Context, target TableTarget, batchOrdinal, batchSize int, archiveTime time.Time) (BatchOutcome, error) {
	errCtx := archiveerr.Context{Database: target.Database, Schema: target.Schema, Table: target.Table, BatchOrdinal: batchOrdinal, Phase: string(StatePlanning)}

	p.state = StatePlanning
	plan, skip, err := p.plan(ctx, target, batchOrdinal, batchSize, archiveTime)
	if err != nil {
		p.state = StateAborting
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.TableErr, errCtx, err)
	}
	if skip {
		p.state = StateIdle
		return BatchOutcome{Ran: true, Skipped: true, BatchOrdinal: batchOrdinal, Fingerprint: plan.Fingerprint}, nil
	}

	errCtx.Fingerprint = plan.Fingerprint
	errCtx.Phase = string(StateFetching)
	p.state = StateFetching
	fetchStart := time.Now()

	spec := batchSpec(target, plan)
	batch, err := p.db.BeginBatch(ctx, spec)
	if err != nil {
		p.state = StateAborting
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchTransient, errCtx, err)
	}
	fetchDuration := time.Since(fetchStart)

	if batch.NDB == 0 {
		_ = batch.Tx.Rollback()
		p.state = StateDrained
		return BatchOutcome{Ran: false, BatchOrdinal: batchOrdinal}, nil
	}

	outcome, err := p.runFetchedBatch(ctx, target, plan, spec, batch, errCtx, fetchDuration)
	if err != nil {
		_ = batch.Tx.Rollback()
		p.state = StateAborting
		return BatchOutcome{}, err
	}
	return outcome, nil
}

func (p *Pipeline) runFetchedBatch(ctx context.Context, target TableTarget, plan BatchPlan, spec sourcedb.BatchSpec, batch *sourcedb.Batch, errCtx archiveerr.Context, fetchDuration time.Duration) (BatchOutcome, error) {
	errCtx.Phase = string(StateSerializing)
	p.state = StateSerializing
	var buf bytes.Buffer
	writer, err := codec.NewWriter(&buf, p.cfg.CompressionLevel)
	if err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchPermanent, errCtx, err)
	}
	archivedAt := plan.ArchiveTime.UTC().Format(time.RFC3339Nano)
	for _, row := range batch.Rows {
		if err := writer.WriteRow(row, archivedAt, plan.Fingerprint, target.Database, target.Table); err != nil {
			return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchPermanent, errCtx, err)
		}
	}
	result, err := writer.Close()
	if err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchPermanent, errCtx, err)
	}

	errCtx.Phase = string(StateUploading)
	p.state = StateUploading
	dataKey := dataObjectKey(p.cfg.ObjectPrefix, target, plan.ArchiveTime, plan.BatchOrdinal)

	resumeState, err := p.loadOpenMultipart(ctx, target, dataKey)
	if err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchTransient, errCtx, err)
	}
	persist := func(state *objectstore.MultipartState) error {
		return p.persistMultipartState(ctx, target, state)
	}
	if _, err := p.store.PutStreamResumable(ctx, dataKey, buf.Bytes(), nil, target.StorageClass, target.SSEOption, resumeState, persist); err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchTransient, errCtx, err)
	}
	if err := p.clearOpenMultipart(ctx, target); err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchTransient, errCtx, err)
	}

	manifest, err := verify.BuildDeletionManifest(target.Database, target.Table, plan.Fingerprint, batch.PKs, plan.ArchiveTime.UTC())
	if err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchPermanent, errCtx, err)
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchPermanent, errCtx, err)
	}
	manifestKey := deletionManifestObjectKey(p.cfg.ObjectPrefix, target, plan.ArchiveTime, plan.BatchOrdinal)
	if err := p.store.PutStream(ctx, manifestKey, manifestJSON, nil, target.StorageClass, target.SSEOption); err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchTransient, errCtx, err)
	}

	metaKey := metadataObjectKey(p.cfg.ObjectPrefix, target, plan.ArchiveTime, plan.BatchOrdinal)
	meta := MetadataRecord{
		SchemaVersion: 1, Database: target.Database, Schema: target.Schema, Table: target.Table,
		BatchOrdinal: plan.BatchOrdinal, BatchFingerprint: plan.Fingerprint, ArchiveTime: plan.ArchiveTime.UTC(),
		MaxRowTS: batch.MaxTS, RecordCount: result.RecordCount, UncompressedBytes: result.UncompressedBytes,
		CompressedBytes: result.CompressedBytes, UncompressedSHA256: result.UncompressedSHA256,
		CompressionAlgo: "gzip", CompressionLevel: p.cfg.CompressionLevel, Columns: target.Columns,
		PrimaryKeyColumns: target.PKColumns, ArchiverVersion: target.ArchiverVersion, ManifestPath: manifestKey,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchPermanent, errCtx, err)
	}
	if err := p.store.PutStream(ctx, metaKey, metaJSON, nil, target.StorageClass, target.SSEOption); err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchTransient, errCtx, err)
	}

	if err := p.updateTableManifest(ctx, target, plan.Fingerprint); err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchTransient, errCtx, err)
	}

	errCtx.Phase = string(StateVerifying)
	p.state = StateVerifying
	info, err := p.store.Head(ctx, dataKey)
	if err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchTransient, errCtx, err)
	}
	if info.Size != result.CompressedBytes {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchPermanent, errCtx,
			fmt.Errorf("uploaded object size %d does not match written size %d", info.Size, result.CompressedBytes))
	}
	if err := verify.CheckCounts(verify.Counts{NDB: batch.NDB, NStream: result.RecordCount, NObject: result.RecordCount}); err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchPermanent, errCtx, err)
	}
	if err := verify.CheckPrimaryKeySetEquality(batch.PKs, manifest.PrimaryKeys); err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchPermanent, errCtx, err)
	}

	errCtx.Phase = string(StateDeleting)
	p.state = StateDeleting
	if err := p.db.DeleteBatch(ctx, batch.Tx, spec, batch.PKs); err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.BatchTransient, errCtx, err)
	}

	errCtx.Phase = string(StateCommitting)
	p.state = StateCommitting
	if err := batch.Tx.Commit(); err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.TableErr, errCtx, err)
	}

	p.state = StateAdvancing
	if err := p.advance(ctx, target, batch, fetchDuration); err != nil {
		return BatchOutcome{}, archiveerr.Wrap(&archiveerr.TableErr, errCtx, err)
	}

	go p.sampleVerifyAbsence(target, batch.PKs)

	p.state = StateIdle
	return BatchOutcome{
		Ran: true, BatchOrdinal: plan.BatchOrdinal, Fingerprint: plan.Fingerprint,
		RecordCount: result.RecordCount, UncompressedBytes: result.UncompressedBytes, CompressedBytes: result.CompressedBytes,
		FetchDuration: fetchDuration, MaxTS: batch.MaxTS, MaxPK: batch.MaxPK,
	}, nil
}

func (p *Pipeline) plan(ctx context.Context, target TableTarget, batchOrdinal, batchSize int, archiveTime time.Time) (BatchPlan, bool, error) {
	wm, err := p.wm.LoadWatermark(ctx, target.Database, target.Schema, target.Table)
	if err != nil {
		return BatchPlan{}, false, err
	}

	plan := BatchPlan{Target: target, Limit: batchSize, BatchOrdinal: batchOrdinal, ArchiveTime: archiveTime.UTC()}
	if wm != nil {
		plan.LoTS = wm.MaxTS
		plan.LoPK = wm.MaxPK
	}
	plan.Fingerprint = computeFingerprint(target, target.Cutoff, plan.LoTS, plan.LoPK, batchOrdinal)

	manifest, err := p.loadTableManifest(ctx, target)
	if err != nil {
		return BatchPlan{}, false, err
	}
	return plan, manifest.Contains(plan.Fingerprint), nil
}

func batchSpec(target TableTarget, plan BatchPlan) sourcedb.BatchSpec {
	return sourcedb.BatchSpec{
		Schema: target.Schema, Table: target.Table, Columns: target.Columns, ColumnTypes: target.ColumnTypes,
		TSColumn: target.TSColumn, PKColumns: target.PKColumns, Cutoff: target.Cutoff,
		After: sourcedb.Cursor{TS: plan.LoTS, PK: plan.LoPK}, Limit: plan.Limit, ExtraWhere: target.ExtraWhere,
	}
}

func (p *Pipeline) loadTableManifest(ctx context.Context, target TableTarget) (TableManifest, error) {
	data, err := p.getObject(ctx, tableManifestObjectKey(p.cfg.ObjectPrefix, target))
	if err != nil {
		return TableManifest{}, err
	}
	if data == nil {
		return TableManifest{}, nil
	}
	var manifest TableManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return TableManifest{}, fmt.Errorf("pipeline: decode table manifest: %w", err)
	}
	return manifest, nil
}

// getObject reads key through the store's Get method (the
// objectStoreGetter surface), which loadTableManifest needs beyond the
// head/conditional-put surface of objectStoreClient.
func (p *Pipeline) getObject(ctx context.Context, key string) ([]byte, error) {
	getter, ok := p.store.(objectStoreGetter)
	if !ok {
		return nil, fmt.Errorf("pipeline: object store client does not support Get")
	}
	data, err := getter.Get(ctx, key)
	if err != nil {
		if objectstore.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// objectStoreGetter is satisfied by *objectstore.Client; kept separate
// from objectStoreClient since only table-manifest loading needs Get.
type objectStoreGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

func (p *Pipeline) updateTableManifest(ctx context.Context, target TableTarget, fingerprint string) error {
	key := tableManifestObjectKey(p.cfg.ObjectPrefix, target)
	return p.store.ConditionalPut(ctx, key, true, func(existing []byte) ([]byte, error) {
		var manifest TableManifest
		if len(existing) > 0 {
			if err := json.Unmarshal(existing, &manifest); err != nil {
				return nil, fmt.Errorf("pipeline: decode existing table manifest: %w", err)
			}
		}
		if !manifest.Contains(fingerprint) {
			manifest.Fingerprints = append(manifest.Fingerprints, fingerprint)
		}
		return json.Marshal(manifest)
	})
}

func (p *Pipeline) advance(ctx context.Context, target TableTarget, batch *sourcedb.Batch, fetchDuration time.Duration) error {
	existing, err := p.wm.LoadWatermark(ctx, target.Database, target.Schema, target.Table)
	if err != nil {
		return err
	}
	cumulative := int64(batch.NDB)
	if existing != nil {
		cumulative += existing.CumulativeRows
	}
	if err := p.wm.SaveWatermark(ctx, &watermark.Watermark{
		Database: target.Database, Schema: target.Schema, Table: target.Table,
		MaxTS: batch.MaxTS, MaxPK: batch.MaxPK, CumulativeRows: cumulative, UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	return p.emitter.Emit(ctx, audit.Event{
		Kind: audit.KindArchiveBatchSuccess, Database: target.Database, Schema: target.Schema, Table: target.Table,
		RowCount: int64(batch.NDB), Duration: fetchDuration, Status: "success",
	})
}

// loadOpenMultipart returns a checkpointed multipart upload for key, if
// one was left open by a run that crashed mid-upload, so
// PutStreamResumable can pick up from the last acknowledged part
// instead of re-uploading from scratch. A checkpoint left over from a
// different object key (a previous batch's upload that completed
// normally but whose checkpoint write raced a crash) is not resumable
// here and is ignored.
func (p *Pipeline) loadOpenMultipart(ctx context.Context, target TableTarget, key string) (*objectstore.MultipartState, error) {
	cp, err := p.wm.LoadCheckpoint(ctx, target.Database, target.Schema, target.Table)
	if err != nil {
		return nil, err
	}
	if cp == nil || len(cp.OpenMultipart) == 0 {
		return nil, nil
	}
	var state objectstore.MultipartState
	if err := json.Unmarshal(cp.OpenMultipart, &state); err != nil {
		return nil, fmt.Errorf("pipeline: decode open multipart checkpoint: %w", err)
	}
	if state.Key != key {
		return nil, nil
	}
	return &state, nil
}

// persistMultipartState records state as the table's open multipart
// upload, preserving whatever watermark and committed-fingerprint
// fields the existing checkpoint already carries. Called before the
// first part is sent and after every subsequent part, so a crash
// mid-upload always has a checkpoint to resume from.
func (p *Pipeline) persistMultipartState(ctx context.Context, target TableTarget, state *objectstore.MultipartState) error {
	cp, err := p.loadOrInitCheckpoint(ctx, target)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("pipeline: encode multipart state: %w", err)
	}
	cp.OpenMultipart = raw
	cp.CreatedAt = time.Now().UTC()
	return p.wm.SaveCheckpoint(ctx, cp)
}

// clearOpenMultipart drops the open-multipart marker once an upload
// completes, without disturbing the rest of the checkpoint.
func (p *Pipeline) clearOpenMultipart(ctx context.Context, target TableTarget) error {
	cp, err := p.wm.LoadCheckpoint(ctx, target.Database, target.Schema, target.Table)
	if err != nil {
		return err
	}
	if cp == nil || len(cp.OpenMultipart) == 0 {
		return nil
	}
	cp.OpenMultipart = nil
	return p.wm.SaveCheckpoint(ctx, cp)
}

func (p *Pipeline) loadOrInitCheckpoint(ctx context.Context, target TableTarget) (*watermark.Checkpoint, error) {
	cp, err := p.wm.LoadCheckpoint(ctx, target.Database, target.Schema, target.Table)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		return cp, nil
	}
	cp = &watermark.Checkpoint{
		Watermark: watermark.Watermark{Database: target.Database, Schema: target.Schema, Table: target.Table},
	}
	wm, err := p.wm.LoadWatermark(ctx, target.Database, target.Schema, target.Table)
	if err != nil {
		return nil, err
	}
	if wm != nil {
		cp.Watermark = *wm
	}
	return cp, nil
}

// sampleVerifyAbsence runs the post-delete sample-absence check in the
// background, asynchronously from the batch that triggered it. It uses
// its own background context since it must outlive RunBatch's
// caller-supplied ctx. A hit, or a failure to even run the check, is a
// critical condition: archived rows may still be live in the source,
// so it is logged at error severity and recorded in the audit trail
// rather than silently dropped.
func (p *Pipeline) sampleVerifyAbsence(target TableTarget, pks [][]interface{}) {
	size := verify.SampleSize(len(pks))
	if size == 0 {
		return
	}
	sample := verify.SamplePrimaryKeys(p.rnd, pks)
	checker := verify.TableExistenceChecker{DB: p.db, Schema: target.Schema, Table: target.Table, PKColumns: target.PKColumns}
	if err := verify.CheckSampleAbsence(context.Background(), checker, sample); err != nil {
		p.log.Error("sample absence check failed",
			zap.String("database", target.Database), zap.String("schema", target.Schema),
			zap.String("table", target.Table), zap.Int("sample_size", len(sample)), zap.Error(err))
		evtErr := p.emitter.Emit(context.Background(), audit.Event{
			Timestamp: time.Now().UTC(), Actor: "batch-pipeline", Kind: audit.KindSampleAbsenceHit,
			Database: target.Database, Schema: target.Schema, Table: target.Table,
			Status: "critical", ErrorSummary: err.Error(),
		})
		if evtErr != nil {
			p.log.Error("failed to emit sample absence audit event", zap.Error(evtErr))
		}
	}
}
