// Package registry talks to the remote validation registry over HTTP/JSON.
// It owns URL construction, the version envelope, pagination, and the
// mapping of transport failures onto the error taxonomy; retry and backoff
// for transient failures live entirely in the underlying resty client.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"resty.dev/v3"

	"github.com/esvtools/esvsync/internal/cachemanager"
	"github.com/esvtools/esvsync/internal/log"
)

// DefaultPageSize is the fixed page size requested from listing endpoints.
const DefaultPageSize = 100

// TokenSource supplies the bearer credential for the next request.
// *auth.Token satisfies it.
type TokenSource interface {
	Value() string
}

// Config configures the registry client.
type Config struct {
	// BaseURL is the server root, e.g. "https://esv.example.com".
	BaseURL string
	// APIPrefix is the versioned path prefix, default "/esv/v1".
	APIPrefix string
	// PageSize for listing endpoints, default DefaultPageSize.
	PageSize int

	RetryCount    int
	RetryWaitTime time.Duration
	Timeout       time.Duration

	// SkipCache disables the read-through resource cache.
	SkipCache bool
}

// Client is the remote registry client. Safe for use by independent
// per-entity workers; per-stage token mutation is the caller's concern.
type Client struct {
	http     *resty.Client
	prefix   string
	pageSize int
	runID    string
	tracer   trace.Tracer

	mu    sync.Mutex
	token TokenSource

	resources *cachemanager.ReadThroughCache[string, Object, string]
}

// New builds a client. token may be nil for unauthenticated endpoints and
// can be replaced per stage with SetToken.
func New(cfg Config, token TokenSource) *Client {
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/esv/v1"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryWaitTime <= 0 {
		cfg.RetryWaitTime = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		AddRetryConditions(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			// Retry server-side failures only; 4xx carries protocol meaning.
			return resp.StatusCode() >= http.StatusInternalServerError
		})

	c := &Client{
		http:     hc,
		prefix:   cfg.APIPrefix,
		pageSize: cfg.PageSize,
		runID:    uuid.NewString(),
		tracer:   otel.Tracer("esvsync/registry"),
	}
	c.SetToken(token)

	cache := cachemanager.NewInMemoryCacheManager[string, Object](
		"registry-resources", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)
	c.resources = cachemanager.NewReadThroughCache[string, Object, string](
		cache, c.fetch, cfg.SkipCache)

	return c
}

// Close releases idle transport connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// RunID identifies this processing pass in logs and traces.
func (c *Client) RunID() string { return c.runID }

// SetToken installs the credential source used for subsequent requests.
// The source is consulted per request, so a credential renewed mid-run
// takes effect on the next call.
func (c *Client) SetToken(token TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// authorize attaches the current bearer credential, if any.
func (c *Client) authorize(req *resty.Request) *resty.Request {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == nil {
		return req
	}
	if value := token.Value(); value != "" {
		req.SetAuthScheme("Bearer").SetAuthToken(value)
	}
	return req
}

// OpURL composes the path for a top-level operation, e.g.
// OpURL("vendors", 2) yields "/esv/v1/vendors/2".
func (c *Client) OpURL(op string, ids ...uint64) string {
	url := c.prefix + "/" + op
	for _, id := range ids {
		url = fmt.Sprintf("%s/%d", url, id)
	}
	return url
}

// Get fetches a single resource through the read-through cache and strips
// the version envelope. A 404 maps to ErrNotFound.
func (c *Client) Get(ctx context.Context, path string) (Object, error) {
	return c.resources.Get(ctx, path, path, cachemanager.DefaultExpiration)
}

// fetch performs the uncached GET backing the resource cache.
func (c *Client) fetch(ctx context.Context, path string) (Object, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return StripVersion(body)
}

// Post submits a payload wrapped in the version envelope.
func (c *Client) Post(ctx context.Context, path string, payload Object) (Object, error) {
	body, err := c.do(ctx, http.MethodPost, path, WrapVersion(payload))
	if err != nil {
		return nil, err
	}
	return StripVersion(body)
}

// Put replaces a resource, payload wrapped in the version envelope.
func (c *Client) Put(ctx context.Context, path string, payload Object) (Object, error) {
	body, err := c.do(ctx, http.MethodPut, path, WrapVersion(payload))
	if err != nil {
		return nil, err
	}
	return StripVersion(body)
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "registry."+method,
		trace.WithAttributes(
			attribute.String("url.path", path),
			attribute.String("run.id", c.runID),
		))
	defer span.End()

	req := c.authorize(c.http.R().SetContext(ctx))
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	var (
		resp *resty.Response
		err  error
	)
	switch method {
	case http.MethodGet:
		resp, err = req.Get(path)
	case http.MethodPost:
		resp, err = req.Post(path)
	case http.MethodPut:
		resp, err = req.Put(path)
	default:
		return nil, fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		log.ErrorErr(log.CatNet, "Registry request failed", err, "method", method, "path", path)
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransient, method, path, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	log.Debug(log.CatNet, "Registry request", "method", method, "path", path,
		"status", resp.StatusCode(), "run", c.runID)

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.IsError():
		return nil, fmt.Errorf("%w: %s %s: status %d: %s",
			ErrTransient, method, path, resp.StatusCode(), resp.String())
	}

	return resp.Bytes(), nil
}

// Upload POSTs a multipart form carrying one evidence file plus additional
// form fields, and strips the version envelope from the response.
func (c *Client) Upload(ctx context.Context, path, field, filename string, r io.Reader, form map[string]string) (Object, error) {
	ctx, span := c.tracer.Start(ctx, "registry.UPLOAD",
		trace.WithAttributes(
			attribute.String("url.path", path),
			attribute.String("file.name", filename),
			attribute.String("run.id", c.runID),
		))
	defer span.End()

	req := c.authorize(c.http.R().SetContext(ctx)).SetFileReader(field, filename, r)
	if len(form) > 0 {
		req.SetMultipartFormData(form)
	}

	resp, err := req.Post(path)
	if err != nil {
		log.ErrorErr(log.CatNet, "Registry upload failed", err, "path", path, "file", filename)
		return nil, fmt.Errorf("%w: upload %s: %v", ErrTransient, path, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	log.Debug(log.CatNet, "Registry upload", "path", path, "file", filename,
		"status", resp.StatusCode(), "run", c.runID)

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.IsError():
		return nil, fmt.Errorf("%w: upload %s: status %d: %s",
			ErrTransient, path, resp.StatusCode(), resp.String())
	}

	return StripVersion(resp.Bytes())
}
