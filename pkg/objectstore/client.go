// Package objectstore implements the archiver's Object-Store Client
// put/get/head/list/delete against an S3-compatible
// endpoint, multipart upload with resumable per-part state, a
// per-prefix token-bucket rate limiter, a circuit breaker, and a
// local-disk fallback for uploads that exhaust retry.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
	"go.uber.org/zap"

	"github.com/labsbykora/audit-table-archiver/pkg/archiveerr"
	"github.com/labsbykora/audit-table-archiver/pkg/retry"
)

// Config is the connection and tuning surface for a Client.
type Config struct {
	Endpoint           string
	AccessKey          string
	SecretKey          string
	Bucket             string
	Region             string
	UseTLS             bool
	MultipartThreshold int64
	PartSize           int64
}

// Info is the subset of object metadata callers need (Head, List).
type Info struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Client is the archiver's object-store façade: one per process,
// shared by every Table Orchestrator against the same endpoint.
type Client struct {
	log      *zap.Logger
	bucket   string
	raw      *minio.Client
	core     *minio.Core
	limiter  *PrefixLimiter
	breaker  *CircuitBreaker
	fallback *Fallback
	retry    retry.Policy
	cfg      Config
}

// New constructs a Client. fallback may be nil to disable the
// local-disk escape hatch (tests only; production always configures
// one for the local-disk fallback path).
func New(log *zap.Logger, cfg Config, fallback *Fallback) (*Client, error) {
	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")

	raw, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseTLS,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: new client: %w", err)
	}

	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseTLS,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: new multipart core: %w", err)
	}

	classify := func(err error) bool {
		return !archiveerr.IsPermanent(err)
	}

	return &Client{
		log:      log.Named("objectstore"),
		bucket:   cfg.Bucket,
		raw:      raw,
		core:     core,
		limiter:  NewPrefixLimiter(200, 400, 30*time.Second),
		breaker:  NewCircuitBreaker(5, time.Minute),
		fallback: fallback,
		retry:    retry.Default(classify),
		cfg:      cfg,
	}, nil
}

// Put uploads data under key in a single request (no multipart),
// tagging it with metadata, storageClass, and sseOption. Callers
// should route anything at or above cfg.MultipartThreshold through
// the multipart methods instead; Put does not split large payloads.
func (c *Client) Put(ctx context.Context, key string, data []byte, metadata map[string]string, storageClass, sseOption string) error {
	if !c.breaker.Allow() {
		return archiveerr.BatchTransient.Wrap(fmt.Errorf("objectstore: circuit open for %s", key))
	}
	if err := c.limiter.Wait(ctx, prefixOf(key)); err != nil {
		return err
	}

	opts := minio.PutObjectOptions{
		UserMetadata: metadata,
		StorageClass: storageClass,
	}
	if sseOption == "sse-s3" {
		opts.ServerSideEncryption = encrypt.NewSSE()
	}

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		_, putErr := c.raw.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
		if isSlowDown(putErr) {
			c.limiter.Throttle(prefixOf(key))
		}
		return classifyMinioErr(putErr)
	})
	if err != nil {
		c.breaker.Failure()
		if c.fallback != nil {
			if fbErr := c.fallback.Save(key, data); fbErr != nil {
				return fmt.Errorf("objectstore: put failed (%v) and fallback save failed: %w", err, fbErr)
			}
			c.log.Warn("put failed, wrote to local fallback", zap.String("key", key), zap.Error(err))
			return nil
		}
		return err
	}
	c.breaker.Success()
	return nil
}

// Get fetches the full object body.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, prefixOf(key)); err != nil {
		return nil, err
	}

	var data []byte
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		obj, getErr := c.raw.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
		if getErr != nil {
			return classifyMinioErr(getErr)
		}
		defer func() { _ = obj.Close() }()
		b, readErr := io.ReadAll(obj)
		if readErr != nil {
			return classifyMinioErr(readErr)
		}
		data = b
		return nil
	})
	return data, err
}

// Head reports size and etag for key without downloading its body,
// used by the Verifier to check a just-uploaded object.
func (c *Client) Head(ctx context.Context, key string) (Info, error) {
	var info Info
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		stat, statErr := c.raw.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
		if statErr != nil {
			return classifyMinioErr(statErr)
		}
		info = Info{Key: stat.Key, Size: stat.Size, ETag: stat.ETag, LastModified: stat.LastModified}
		return nil
	})
	return info, err
}

// List returns every object under prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]Info, error) {
	var infos []Info
	for obj := range c.raw.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classifyMinioErr(obj.Err)
		}
		infos = append(infos, Info{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified})
	}
	return infos, nil
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return classifyMinioErr(c.raw.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}))
	})
}

// ConditionalPut implements the TableManifest update contract: read
// the current object (if any), call merge with its bytes (nil if
// expectAbsent and the object does not yet exist), and write the
// result back only if no concurrent writer has changed the object in
// between, retrying the whole read-merge-write on conflict.
func (c *Client) ConditionalPut(ctx context.Context, key string, expectAbsent bool, merge func(existing []byte) ([]byte, error)) error {
	const maxConflictRetries = 5

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		existing, beforeETag, err := c.getWithETag(ctx, key)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err != nil && !expectAbsent && attempt == 0 {
			return fmt.Errorf("objectstore: conditional put expected %s to exist: %w", key, err)
		}

		merged, err := merge(existing)
		if err != nil {
			return fmt.Errorf("objectstore: merge for %s: %w", key, err)
		}

		conflict, err := c.putIfUnchanged(ctx, key, merged, beforeETag)
		if err != nil {
			return err
		}
		if !conflict {
			return nil
		}
	}
	return fmt.Errorf("objectstore: conditional put on %s did not converge after %d attempts", key, maxConflictRetries)
}

func (c *Client) getWithETag(ctx context.Context, key string) ([]byte, string, error) {
	data, err := c.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	info, err := c.Head(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return data, info.ETag, nil
}

// putIfUnchanged writes data under key, reporting a conflict (and not
// writing) if the object's etag changed since beforeETag was
// observed. beforeETag == "" means "expected absent".
func (c *Client) putIfUnchanged(ctx context.Context, key string, data []byte, beforeETag string) (conflict bool, err error) {
	info, statErr := c.Head(ctx, key)
	switch {
	case statErr != nil && !isNotFound(statErr):
		return false, statErr
	case statErr != nil: // not found
		if beforeETag != "" {
			return true, nil
		}
	default:
		if info.ETag != beforeETag {
			return true, nil
		}
	}

	return false, c.Put(ctx, key, data, nil, "", "")
}

func prefixOf(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i]
		}
	}
	return ""
}

func isNotFound(err error) bool {
	return IsNotFound(err)
}

// IsNotFound reports whether err is the store's not-found response,
// for callers (e.g. pkg/watermark) distinguishing "never written yet"
// from a real failure. It unwraps through archiveerr's wrapping, since
// classifyMinioErr wraps the raw minio.ErrorResponse before it
// crosses the Client's public methods.
func IsNotFound(err error) bool {
	resp, ok := minioErrorResponse(err)
	if !ok {
		return false
	}
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

func isSlowDown(err error) bool {
	resp, ok := minioErrorResponse(err)
	if !ok {
		return false
	}
	return resp.Code == "SlowDown" || resp.Code == "ServiceUnavailable"
}

func minioErrorResponse(err error) (minio.ErrorResponse, bool) {
	if err == nil {
		return minio.ErrorResponse{}, false
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp, true
	}
	return minio.ErrorResponse{}, false
}

func classifyMinioErr(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
		return archiveerr.BatchTransient.Wrap(err)
	case "NoSuchKey", "NoSuchBucket", "AccessDenied", "InvalidArgument":
		return archiveerr.BatchPermanent.Wrap(err)
	default:
		return archiveerr.BatchTransient.Wrap(err)
	}
}
