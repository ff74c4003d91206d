// Package platform talks to the Codefresh REST API.
package platform

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

	"github.com/agentic-research/cfsync/internal/spec"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultURL is the hosted platform endpoint.
const DefaultURL = "https://g.codefresh.io"

const maxResponseBody = 8 << 20

// HTTPClient is a minimal Codefresh API client covering pipelines and
// projects. It is safe for concurrent use.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient sets the *http.Client requests are sent with. The client
// is copied, so a timeout set through WithTimeout never leaks into it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

// WithTimeout sets the per-request timeout. It applies regardless of the
// order of options.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.timeout = d }
}

// WithRateLimit caps outgoing requests per second. Zero or negative
// disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *HTTPClient) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *HTTPClient) { c.logger = l }
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL, apiKey string, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api url %q must be absolute", baseURL)
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.http
	if c.timeout > 0 {
		hc.Timeout = c.timeout
	}
	c.http = &hc
	return c, nil
}

func pipelinePath(name string) string {
	return "/api/pipelines/" + url.PathEscape(name)
}

func projectPath(name string) string {
	return "/api/projects/name/" + url.PathEscape(name)
}

// GetPipeline fetches a pipeline by its full name (project/pipeline).
func (c *HTTPClient) GetPipeline(ctx context.Context, name string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, pipelinePath(name), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreatePipeline(ctx context.Context, s spec.Spec) error {
	return c.do(ctx, http.MethodPost, "/api/pipelines", s, nil)
}

func (c *HTTPClient) UpdatePipeline(ctx context.Context, name string, s spec.Spec) error {
	return c.do(ctx, http.MethodPut, pipelinePath(name), s, nil)
}

func (c *HTTPClient) GetProject(ctx context.Context, name string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, projectPath(name), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateProject(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/projects", map[string]string{"projectName": name}, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: data}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
