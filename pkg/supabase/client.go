// Package supabase provides a client for the Supabase Storage object API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/agroamigo/sipsa-pipeline/internal/resilience"
)

// ErrExists is returned by Upload when an object already occupies the path.
var ErrExists = eris.New("supabase: object already exists")

// Client defines the Supabase Storage operations.
type Client interface {
	// Upload writes data to bucket/path. Returns ErrExists on conflict.
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	// Download returns the object bytes at bucket/path.
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	// Exists reports whether an object is present at bucket/path.
	Exists(ctx context.Context, bucket, path string) (bool, error)
	// List returns object names under prefix in bucket.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	// Remove deletes the object at bucket/path.
	Remove(ctx context.Context, bucket, path string) error
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Name      string     `json:"name"`
	ID        string     `json:"id"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// Option configures the Supabase client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the retry behavior for transient failures.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL    string
	serviceKey string
	http       *http.Client
	retry      resilience.RetryConfig
}

// NewClient creates a Supabase Storage client for the project at baseURL.
func NewClient(baseURL, serviceKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("supabase", "storage")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) objectURL(bucket, path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, strings.Join(segments, "/"))
}

func (c *httpClient) do(ctx context.Context, method, reqURL string, body []byte, contentType string) ([]byte, int, error) {
	type result struct {
		body   []byte
		status int
	}

	res, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (result, error) {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, rdr)
		if err != nil {
			return result{}, eris.Wrap(err, "supabase: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return result{}, err
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return result{}, eris.Wrap(readErr, "supabase: read response body")
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return result{}, resilience.NewTransientError(
				eris.Errorf("supabase: status %d: %s", resp.StatusCode, string(respBody)), resp.StatusCode)
		}
		return result{body: respBody, status: resp.StatusCode}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res.body, res.status, nil
}

// isConflict recognizes the variety of shapes Supabase uses for "already
// there": a 409 status, or an error payload mentioning a duplicate.
func isConflict(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	msg := strings.ToLower(string(body))
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}

func (c *httpClient) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	body, status, err := c.do(ctx, http.MethodPost, c.objectURL(bucket, path), data, contentType)
	if err != nil {
		return eris.Wrapf(err, "supabase: upload %s", path)
	}
	if status == http.StatusOK || status == http.StatusCreated {
		return nil
	}
	if isConflict(status, body) {
		return ErrExists
	}
	return eris.Errorf("supabase: upload %s: status %d: %s", path, status, string(body))
}

func (c *httpClient) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	body, status, err := c.do(ctx, http.MethodGet, c.objectURL(bucket, path), nil, "")
	if err != nil {
		return nil, eris.Wrapf(err, "supabase: download %s", path)
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("supabase: download %s: status %d: %s", path, status, string(body))
	}
	return body, nil
}

func (c *httpClient) Exists(ctx context.Context, bucket, path string) (bool, error) {
	_, status, err := c.do(ctx, http.MethodHead, c.objectURL(bucket, path), nil, "")
	if err != nil {
		return false, eris.Wrapf(err, "supabase: stat %s", path)
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound, http.StatusBadRequest:
		return false, nil
	default:
		return false, eris.Errorf("supabase: stat %s: status %d", path, status)
	}
}

func (c *httpClient) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	payload, err := json.Marshal(map[string]any{
		"prefix": prefix,
		"limit":  1000,
		"offset": 0,
	})
	if err != nil {
		return nil, eris.Wrap(err, "supabase: marshal list request")
	}

	reqURL := fmt.Sprintf("%s/storage/v1/object/list/%s", c.baseURL, bucket)
	body, status, err := c.do(ctx, http.MethodPost, reqURL, payload, "application/json")
	if err != nil {
		return nil, eris.Wrapf(err, "supabase: list %s", prefix)
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("supabase: list %s: status %d: %s", prefix, status, string(body))
	}

	var objects []ObjectInfo
	if err := json.Unmarshal(body, &objects); err != nil {
		return nil, eris.Wrap(err, "supabase: unmarshal list response")
	}
	return objects, nil
}

func (c *httpClient) Remove(ctx context.Context, bucket, path string) error {
	body, status, err := c.do(ctx, http.MethodDelete, c.objectURL(bucket, path), nil, "")
	if err != nil {
		return eris.Wrapf(err, "supabase: remove %s", path)
	}
	if status == http.StatusOK || status == http.StatusNotFound {
		return nil
	}
	return eris.Errorf("supabase: remove %s: status %d: %s", path, status, string(body))
}
