package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/pgzip"
)

// Reader decompresses and decodes a stream written by Writer, for the
// Restore Engine and for the Verifier's scheduled checksum
// re-validation.
type Reader struct {
	uncompressed *countingHash
	gz           *pgzip.Reader
	dec          *json.Decoder
}

// NewReader wraps in, a gzip-compressed NDJSON stream.
func NewReader(in io.Reader) (*Reader, error) {
	gz, err := pgzip.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("codec: new gzip reader: %w", err)
	}
	uncompressed := newCountingHash(io.Discard)
	tee := io.TeeReader(gz, uncompressed)
	return &Reader{
		uncompressed: uncompressed,
		gz:           gz,
		dec:          json.NewDecoder(tee),
	}, nil
}

// ReadRow decodes the next record into row. It returns io.EOF when
// the stream is exhausted.
func (r *Reader) ReadRow(row *Row) error {
	*row = nil
	if err := r.dec.Decode(row); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying gzip reader and returns the
// uncompressed SHA-256 digest accumulated so far, for comparison
// against MetadataRecord.UncompressedSHA256.
func (r *Reader) Close() (string, error) {
	if err := r.gz.Close(); err != nil {
		return "", fmt.Errorf("codec: close gzip reader: %w", err)
	}
	return r.uncompressed.sum(), nil
}
