package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/labsbykora/audit-table-archiver/pkg/retry"
)

// HTTPHoldSource queries a legal-hold service over HTTP, retrying
// transient failures with the shared backoff policy.
type HTTPHoldSource struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

// NewHTTPHoldSource points at baseURL (e.g.
// "https://legal-hold.internal/v1/holds"); LookupHold appends
// ?database=...&schema=...&table=....
func NewHTTPHoldSource(baseURL string, httpClient *http.Client) *HTTPHoldSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	classify := func(err error) bool { return true } // every error is retried, up to retry.Default's 3 attempts
	return &HTTPHoldSource{baseURL: baseURL, httpClient: httpClient, retry: retry.Default(classify)}
}

type holdResponse struct {
	TableHold bool            `json:"table_hold"`
	PKColumn  string          `json:"pk_column"`
	PKValues  []interface{}   `json:"pk_values"`
	Found     bool            `json:"found"`
}

func (s *HTTPHoldSource) LookupHold(ctx context.Context, database, schema, table string) (*Hold, error) {
	q := url.Values{"database": {database}, "schema": {schema}, "table": {table}}
	endpoint := s.baseURL + "?" + q.Encode()

	var resp holdResponse
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		r, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = r.Body.Close() }()
		if r.StatusCode == http.StatusNotFound {
			resp = holdResponse{Found: false}
			return nil
		}
		if r.StatusCode != http.StatusOK {
			return fmt.Errorf("compliance: hold service returned %s", r.Status)
		}
		return json.NewDecoder(r.Body).Decode(&resp)
	})
	if err != nil {
		return nil, fmt.Errorf("compliance: http hold lookup %s/%s/%s: %w", database, schema, table, err)
	}
	if !resp.Found && !resp.TableHold && resp.PKColumn == "" {
		return nil, nil
	}
	return &Hold{TableHold: resp.TableHold, PKColumn: resp.PKColumn, PKValues: resp.PKValues}, nil
}
