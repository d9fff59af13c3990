package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/pgzip"
)

// Row is one fetched row, keyed by column name. Values should use
// Decimal, Binary, Timestamp, Range, or Composite where the source
// column's type requires the corresponding encoding rule; any other
// JSON-marshalable value (string, bool, float64, int64, nil, nested
// map/slice) is passed through natively.
type Row map[string]interface{}

// Result summarizes one finished Writer: the counts and digests the
// Verifier and MetadataRecord need.
type Result struct {
	RecordCount        int
	UncompressedBytes  int64
	CompressedBytes    int64
	UncompressedSHA256 string
	CompressedSHA256   string
}

// countingHash tees writes to an underlying io.Writer while
// accumulating a running byte count and SHA-256 digest.
type countingHash struct {
	w    io.Writer
	hash hash.Hash
	n    int64
}

func newCountingHash(w io.Writer) *countingHash {
	return &countingHash{w: w, hash: sha256.New()}
}

func (c *countingHash) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.hash.Write(p[:n])
	return n, err
}

func (c *countingHash) sum() string {
	return hex.EncodeToString(c.hash.Sum(nil))
}

// Writer streams Rows out as gzip-compressed NDJSON, computing the
// pre- and post-compression digests in the same
// pass, with no second read of the data.
type Writer struct {
	compressed *countingHash
	gz         *pgzip.Writer
	uncompressed *countingHash
	enc        *json.Encoder
	count      int
	closed     bool
}

// NewWriter returns a Writer emitting to out at the given gzip level
// (1-9).
func NewWriter(out io.Writer, level int) (*Writer, error) {
	if level < 1 || level > 9 {
		return nil, fmt.Errorf("codec: compression level %d must be in [1, 9]", level)
	}

	compressed := newCountingHash(out)
	gz, err := pgzip.NewWriterLevel(compressed, level)
	if err != nil {
		return nil, fmt.Errorf("codec: new gzip writer: %w", err)
	}
	uncompressed := newCountingHash(gz)

	return &Writer{
		compressed:   compressed,
		gz:           gz,
		uncompressed: uncompressed,
		enc:          json.NewEncoder(uncompressed),
	}, nil
}

// WriteRow appends row as one NDJSON line. The reserved underscore
// fields are merged in, overriding any column of the same name.
func (w *Writer) WriteRow(row Row, archivedAt, batchFingerprint, database, table string) error {
	record := make(Row, len(row)+4)
	for k, v := range row {
		record[k] = v
	}
	record[FieldArchivedAt] = archivedAt
	record[FieldBatchFingerprint] = batchFingerprint
	record[FieldSourceDatabase] = database
	record[FieldSourceTable] = table

	if err := w.enc.Encode(record); err != nil {
		return fmt.Errorf("codec: encode row %d: %w", w.count, err)
	}
	w.count++
	return nil
}

// Close flushes and closes the gzip stream and returns the final
// Result. It must be called exactly once.
func (w *Writer) Close() (Result, error) {
	if w.closed {
		return Result{}, fmt.Errorf("codec: writer already closed")
	}
	w.closed = true

	if err := w.gz.Close(); err != nil {
		return Result{}, fmt.Errorf("codec: close gzip writer: %w", err)
	}

	return Result{
		RecordCount:        w.count,
		UncompressedBytes:  w.uncompressed.n,
		CompressedBytes:    w.compressed.n,
		UncompressedSHA256: w.uncompressed.sum(),
		CompressedSHA256:   w.compressed.sum(),
	}, nil
}
