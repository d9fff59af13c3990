package audit

import (
	"context"
	"encoding/json"
	"fmt"
)

// Sink persists one Event. Append only: a Sink implementation must
// never overwrite a previously written event.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// objectStoreClient is the subset of objectstore.Client a Sink needs.
type objectStoreClient interface {
	Put(ctx context.Context, key string, data []byte, metadata map[string]string, storageClass, sseOption string) error
}

// ObjectStoreSink writes each event as its own object under
// <prefix>/audit/year=YYYY/month=MM/day=DD/<epoch>_<kind>.json, the
// Hive-style partitioning.
type ObjectStoreSink struct {
	client objectStoreClient
	prefix string
}

// NewObjectStoreSink roots events at prefix (the archiver's
// configured object-key prefix).
func NewObjectStoreSink(client objectStoreClient, prefix string) *ObjectStoreSink {
	return &ObjectStoreSink{client: client, prefix: prefix}
}

func (s *ObjectStoreSink) Write(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: encode event: %w", err)
	}
	key := fmt.Sprintf("%s/audit/year=%04d/month=%02d/day=%02d/%d_%s.json",
		s.prefix, event.Timestamp.Year(), event.Timestamp.Month(), event.Timestamp.Day(),
		event.Timestamp.UnixNano(), event.Kind)
	return s.client.Put(ctx, key, data, nil, "", "")
}

// MultiSink fans one event out to every inner Sink, returning the
// first error (after attempting all of them) so one backend's outage
// doesn't silently drop events the other backend did record.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink wraps sinks, skipping any nil entries.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Write(ctx context.Context, event Event) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, event); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("audit: sink write failed: %w", err)
		}
	}
	return firstErr
}
