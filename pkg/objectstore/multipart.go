package objectstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"github.com/labsbykora/audit-table-archiver/pkg/archiveerr"
)

// MultipartState is the persisted record of an in-progress multipart
// upload, so a crashed or restarted run can resume rather than
// re-uploading parts already acknowledged by the store: an
// interrupted upload resumes from its last acknowledged part on the
// next attempt.
type MultipartState struct {
	Key          string
	UploadID     string
	PartSize     int64
	CompleteETag map[int]string
}

// MultipartBegin starts a new multipart upload for key and returns its
// state, to be threaded through MultipartPutPart and
// MultipartComplete/MultipartAbort.
func (c *Client) MultipartBegin(ctx context.Context, key string, metadata map[string]string, storageClass, sseOption string) (*MultipartState, error) {
	opts := minio.PutObjectOptions{
		UserMetadata: metadata,
		StorageClass: storageClass,
	}
	if sseOption == "sse-s3" {
		opts.ServerSideEncryption = encrypt.NewSSE()
	}
	uploadID, err := c.core.NewMultipartUpload(ctx, c.bucket, key, opts)
	if err != nil {
		return nil, archiveerr.BatchTransient.Wrap(fmt.Errorf("objectstore: begin multipart %s: %w", key, classifyMinioErr(err)))
	}
	return &MultipartState{
		Key:          key,
		UploadID:     uploadID,
		PartSize:     c.cfg.PartSize,
		CompleteETag: make(map[int]string),
	}, nil
}

// MultipartResume lists the parts the store already has for an
// upload started in an earlier, interrupted run and populates
// state.CompleteETag so MultipartPutPart can skip them.
func (c *Client) MultipartResume(ctx context.Context, state *MultipartState) error {
	marker := 0
	for {
		result, err := c.core.ListObjectParts(ctx, c.bucket, state.Key, state.UploadID, marker, 1000)
		if err != nil {
			return archiveerr.BatchTransient.Wrap(fmt.Errorf("objectstore: list parts %s: %w", state.Key, classifyMinioErr(err)))
		}
		for _, p := range result.ObjectParts {
			state.CompleteETag[p.PartNumber] = p.ETag
		}
		if !result.IsTruncated {
			return nil
		}
		marker = result.NextPartNumberMarker
	}
}

// MultipartPutPart uploads one part, skipping it if state already
// records it as acknowledged (resume case).
func (c *Client) MultipartPutPart(ctx context.Context, state *MultipartState, partNumber int, data []byte) error {
	if _, done := state.CompleteETag[partNumber]; done {
		return nil
	}
	if !c.breaker.Allow() {
		return archiveerr.BatchTransient.Wrap(fmt.Errorf("objectstore: circuit open for %s", state.Key))
	}
	if err := c.limiter.Wait(ctx, prefixOf(state.Key)); err != nil {
		return err
	}

	var etag string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		part, putErr := c.core.PutObjectPart(ctx, c.bucket, state.Key, state.UploadID, partNumber,
			bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
		if isSlowDown(putErr) {
			c.limiter.Throttle(prefixOf(state.Key))
		}
		if putErr != nil {
			return classifyMinioErr(putErr)
		}
		etag = part.ETag
		return nil
	})
	if err != nil {
		c.breaker.Failure()
		return err
	}
	c.breaker.Success()
	state.CompleteETag[partNumber] = etag
	return nil
}

// MultipartComplete finalizes the upload once every part up to
// totalParts has been acknowledged.
func (c *Client) MultipartComplete(ctx context.Context, state *MultipartState, totalParts int) error {
	parts := make([]minio.CompletePart, 0, totalParts)
	for i := 1; i <= totalParts; i++ {
		etag, ok := state.CompleteETag[i]
		if !ok {
			return archiveerr.TableErr.Wrap(fmt.Errorf("objectstore: part %d of %s never acknowledged", i, state.Key))
		}
		parts = append(parts, minio.CompletePart{PartNumber: i, ETag: etag})
	}

	_, err := c.core.CompleteMultipartUpload(ctx, c.bucket, state.Key, state.UploadID, parts, minio.PutObjectOptions{})
	if err != nil {
		return archiveerr.BatchTransient.Wrap(fmt.Errorf("objectstore: complete multipart %s: %w", state.Key, classifyMinioErr(err)))
	}
	return nil
}

// MultipartAbort cancels an in-progress upload, releasing its parts on
// the store side. Called when a table is aborted mid-batch.
func (c *Client) MultipartAbort(ctx context.Context, state *MultipartState) error {
	if err := c.core.AbortMultipartUpload(ctx, c.bucket, state.Key, state.UploadID); err != nil {
		return archiveerr.Warning.Wrap(fmt.Errorf("objectstore: abort multipart %s: %w", state.Key, classifyMinioErr(err)))
	}
	return nil
}

// PutStream uploads data under key, routing it through multipart if it
// meets cfg.MultipartThreshold, or a single Put otherwise. It does not
// persist resume state; callers that need a crashed upload to resume
// from its last acknowledged part should use PutStreamResumable.
func (c *Client) PutStream(ctx context.Context, key string, data []byte, metadata map[string]string, storageClass, sseOption string) error {
	_, err := c.PutStreamResumable(ctx, key, data, metadata, storageClass, sseOption, nil, nil)
	return err
}

// PutStreamResumable is PutStream with two additions: resume, if
// non-nil, is a MultipartState from an earlier interrupted attempt on
// the same key (its CompleteETag is repopulated from the store via
// MultipartResume before any part is sent, so already-acknowledged
// parts are skipped); persist, if non-nil, is called with the current
// state immediately after MultipartBegin (or after the resume lookup)
// and again after every part completes, so a caller can checkpoint the
// state before the first upload attempt rather than after the fact.
// It returns the final state so the caller can clear its checkpoint on
// success.
func (c *Client) PutStreamResumable(ctx context.Context, key string, data []byte, metadata map[string]string, storageClass, sseOption string, resume *MultipartState, persist func(*MultipartState) error) (*MultipartState, error) {
	if int64(len(data)) < c.cfg.MultipartThreshold {
		return nil, c.Put(ctx, key, data, metadata, storageClass, sseOption)
	}

	partSize := c.cfg.PartSize
	if partSize <= 0 {
		return nil, archiveerr.Fatal.Wrap(fmt.Errorf("objectstore: multipart part size must be positive"))
	}

	state := resume
	if state != nil {
		if err := c.MultipartResume(ctx, state); err != nil {
			return nil, err
		}
	} else {
		s, err := c.MultipartBegin(ctx, key, metadata, storageClass, sseOption)
		if err != nil {
			return nil, err
		}
		state = s
	}

	if persist != nil {
		if err := persist(state); err != nil {
			_ = c.MultipartAbort(ctx, state)
			return nil, fmt.Errorf("objectstore: persist multipart state for %s: %w", key, err)
		}
	}

	total := (int64(len(data)) + partSize - 1) / partSize
	for i := int64(0); i < total; i++ {
		start := i * partSize
		end := start + partSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		if err := c.MultipartPutPart(ctx, state, int(i)+1, data[start:end]); err != nil {
			_ = c.MultipartAbort(ctx, state)
			return nil, err
		}
		if persist != nil {
			if err := persist(state); err != nil {
				_ = c.MultipartAbort(ctx, state)
				return nil, fmt.Errorf("objectstore: persist multipart state for %s: %w", key, err)
			}
		}
	}

	if err := c.MultipartComplete(ctx, state, int(total)); err != nil {
		_ = c.MultipartAbort(ctx, state)
		return nil, err
	}
	return state, nil
}
