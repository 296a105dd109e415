// Package supabase provides a client for Supabase (PostgREST + Auth).
// It is the real data backend for users, identifier mappings and every
// collection that references user identifiers.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gokkul-M/istri-sub001/internal/domain"
	"github.com/Gokkul-M/istri-sub001/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
	pageSize       int
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
		pageSize:       pageSize,
	}
}

// breakerErr surfaces gobreaker's rejection sentinels as the domain's
// circuit-open error. Anything else passes through unchanged.
func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: "supabase"}
	}
	return err
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
}

// doGet executes an authenticated GET against PostgREST. Reads go through
// the circuit breaker and retry policy; writes never do.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			var err error
			body, err = c.doGetOnce(ctx, path, "")
			return err
		})
	})
	return body, breakerErr(err)
}

// doGetOnce executes a single GET. rangeHeader, when non-empty, is sent as a
// PostgREST Range header for paginated reads.
func (c *Client) doGetOnce(ctx context.Context, path, rangeHeader string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(req)
	if rangeHeader != "" {
		req.Header.Set("Range-Unit", "items")
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: GET failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: GET non-2xx",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("supabase GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	return body, nil
}

// getAllPages reads a full collection page by page and appends the decoded
// rows into out (a pointer to a slice). It never assumes the collection
// fits in a single page.
func getAllPages[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var all []T
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	for offset := 0; ; offset += c.pageSize {
		pagePath := fmt.Sprintf("%s%sorder=id.asc", path, sep)
		rangeHeader := fmt.Sprintf("%d-%d", offset, offset+c.pageSize-1)

		var body []byte
		_, err := c.cb.Execute(func() (any, error) {
			return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
				var err error
				body, err = c.doGetOnce(ctx, pagePath, rangeHeader)
				return err
			})
		})
		if err != nil {
			return nil, breakerErr(err)
		}
		if body == nil {
			break
		}

		var page []T
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode %s page: %w", path, err)
		}
		all = append(all, page...)

		if len(page) < c.pageSize {
			break
		}
	}
	return all, nil
}

// doPost inserts rows. Returns the representation of the inserted rows.
func (c *Client) doPost(ctx context.Context, table string, data any) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(req)
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: POST failed",
			zap.String("table", table),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusConflict {
		c.logger.Warn("supabase: POST conflict",
			zap.String("table", table),
			zap.String("body", string(body)),
		)
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("%s: row already exists", table)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: POST non-2xx",
			zap.String("table", table),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("supabase POST %s returned %d: %s", table, resp.StatusCode, string(body))
	}

	c.logger.Debug("supabase: POST OK", zap.String("table", table), zap.Int("status", resp.StatusCode))
	return body, nil
}

// doPatch updates rows matching the path's filter and returns how many rows
// were changed (PostgREST echoes the updated rows back).
func (c *Client) doPatch(ctx context.Context, path string, data map[string]any) (int, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, err
	}
	c.setAuthHeaders(req)
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: PATCH failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: PATCH non-2xx",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return 0, fmt.Errorf("supabase PATCH %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	var rows []json.RawMessage
	if len(body) > 0 {
		if err := json.Unmarshal(body, &rows); err != nil {
			return 0, fmt.Errorf("decode PATCH representation: %w", err)
		}
	}

	c.logger.Debug("supabase: PATCH OK", zap.String("path", path), zap.Int("rows", len(rows)))
	return len(rows), nil
}

// doDelete removes rows matching the path's filter.
func (c *Client) doDelete(ctx context.Context, path string) error {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: DELETE failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("supabase: DELETE non-2xx",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return fmt.Errorf("supabase DELETE %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	c.logger.Debug("supabase: DELETE OK", zap.String("path", path))
	return nil
}

// countRows asks PostgREST for the exact row count of a filter without
// transferring the rows (Range 0-0 with count=exact in the Prefer header).
func (c *Client) countRows(ctx context.Context, path string) (int, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	c.setAuthHeaders(req)
	req.Header.Set("Prefer", "count=exact")
	req.Header.Set("Range-Unit", "items")
	req.Header.Set("Range", "0-0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("supabase count %s returned %d", path, resp.StatusCode)
	}

	// Content-Range is "0-0/123" or "*/0" for an empty result.
	contentRange := resp.Header.Get("Content-Range")
	_, total, ok := strings.Cut(contentRange, "/")
	if !ok {
		return 0, fmt.Errorf("supabase count %s: missing Content-Range", path)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("supabase count %s: bad Content-Range %q", path, contentRange)
	}
	return n, nil
}
