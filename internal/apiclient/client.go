// Package apiclient is the single egress point for panel backend calls. It
// attaches bearer credentials, keeps a pool of cancelable in-flight requests
// so a view change can abort them in bulk, and applies the global HTTP error
// policy (401 single-flight recovery, 403/connectivity notices).
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/craftpanel/panelctl/internal/cache"
)

const defaultUnauthorizedCooldown = 10 * time.Second

// CredentialStore supplies and clears the stored bearer token.
type CredentialStore interface {
	Token() string
	ClearToken() error
}

// Notifier receives user-facing notices for globally handled errors.
// 404 and 5xx responses are deliberately not routed here; call sites handle
// those with their own context.
type Notifier interface {
	PermissionDenied(detail string)
	ConnectivityProblem(err error)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration // per-request timeout for ordinary calls
	Credentials CredentialStore
	Notifier    Notifier

	// OnUnauthorized runs after a 401 clears the stored credential,
	// at most once per cooldown window.
	OnUnauthorized       func()
	UnauthorizedCooldown time.Duration

	Cache  *cache.Cache // optional read-endpoint response cache
	Logger zerolog.Logger
}

// Client issues HTTP requests against the panel backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration

	creds    CredentialStore
	notifier Notifier

	onUnauthorized func()
	authCooldown   time.Duration
	authMu         sync.Mutex
	lastAuthFail   time.Time

	pending *pendingPool
	cache   *cache.Cache
	logger  zerolog.Logger
}

// New creates a new backend client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cooldown := opts.UnauthorizedCooldown
	if cooldown == 0 {
		cooldown = defaultUnauthorizedCooldown
	}

	return &Client{
		// The shared http.Client carries no timeout of its own; ordinary
		// calls get a per-request context deadline and transfers run
		// unbounded.
		httpClient:     &http.Client{},
		baseURL:        strings.TrimSuffix(opts.BaseURL, "/"),
		timeout:        timeout,
		creds:          opts.Credentials,
		notifier:       opts.Notifier,
		onUnauthorized: opts.OnUnauthorized,
		authCooldown:   cooldown,
		pending:        newPendingPool(),
		cache:          opts.Cache,
		logger:         opts.Logger.With().Str("component", "apiclient").Logger(),
	}, nil
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RequestOptions describes a single backend call.
type RequestOptions struct {
	Method string
	Path   string
	Query  url.Values

	// JSON, when non-nil, is marshaled as the request body. Body/ContentType
	// take precedence when both are set.
	JSON        interface{}
	Body        io.Reader
	ContentType string

	// NoTimeout disables the per-request deadline. Used by transfers, which
	// may legitimately run long.
	NoTimeout bool

	// DisableRouteCancel keeps the request out of the pending pool so a bulk
	// CancelPending does not abort it.
	DisableRouteCancel bool
}

// Do issues a request and returns the response with its body unread. The
// caller owns the body; closing it deregisters the request from the pending
// pool. Non-2xx responses are drained and returned as *APIError after the
// global error policy has been applied.
func (c *Client) Do(ctx context.Context, opts RequestOptions) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cancels := make([]context.CancelFunc, 0, 2)
	var handle uint64
	tracked := false

	if !opts.DisableRouteCancel {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		cancels = append(cancels, cancel)
		handle = c.pending.add(cancel)
		tracked = true
	}
	if !opts.NoTimeout && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		cancels = append(cancels, cancel)
	}

	var settleOnce sync.Once
	settle := func() {
		settleOnce.Do(func() {
			if tracked {
				c.pending.remove(handle)
			}
			for _, cancel := range cancels {
				cancel()
			}
		})
	}

	req, err := c.newRequest(ctx, opts)
	if err != nil {
		settle()
		// Request construction failures are local bugs, not backend errors:
		// log and hand back to the caller.
		c.logger.Error().Err(err).Str("path", opts.Path).Msg("Failed to build request")
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		settle()
		if IsCanceled(err) {
			return nil, fmt.Errorf("%s %s: %w", req.Method, opts.Path, ErrCanceled)
		}
		c.logger.Error().Err(err).Str("path", opts.Path).Msg("HTTP request failed")
		if c.notifier != nil {
			c.notifier.ConnectivityProblem(err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}

	resp.Body = &settledBody{ReadCloser: resp.Body, settle: settle}

	if resp.StatusCode >= 400 {
		apiErr := apiErrorFromResponse(resp)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			c.handleUnauthorized()
		case http.StatusForbidden:
			if c.notifier != nil {
				c.notifier.PermissionDenied(apiErr.Detail)
			}
		default:
			// 404/5xx pass through silently; call sites decide.
		}

		return nil, apiErr
	}

	return resp, nil
}

// newRequest builds the http.Request, attaching the bearer token if present.
func (c *Client) newRequest(ctx context.Context, opts RequestOptions) (*http.Request, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	reqURL := c.baseURL + opts.Path
	if len(opts.Query) > 0 {
		reqURL = fmt.Sprintf("%s?%s", reqURL, opts.Query.Encode())
	}

	body := opts.Body
	contentType := opts.ContentType
	if body == nil && opts.JSON != nil {
		data, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.creds != nil {
		if token := c.creds.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return req, nil
}

// handleUnauthorized clears the stored credential and fires the
// unauthorized hook, at most once per cooldown window. Concurrent 401s from
// several in-flight requests must not stack redirects.
func (c *Client) handleUnauthorized() {
	c.authMu.Lock()
	if time.Since(c.lastAuthFail) < c.authCooldown {
		c.authMu.Unlock()
		return
	}
	c.lastAuthFail = time.Now()
	c.authMu.Unlock()

	c.logger.Warn().Msg("Session rejected by backend, clearing credentials")

	if c.creds != nil {
		if err := c.creds.ClearToken(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to clear stored token")
		}
	}
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

// DoJSON issues a request and decodes the JSON response into out. A nil out
// drains and discards the body.
func (c *Client) DoJSON(ctx context.Context, opts RequestOptions, out interface{}) error {
	resp, err := c.Do(ctx, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetJSON fetches path and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.DoJSON(ctx, RequestOptions{Method: http.MethodGet, Path: path, Query: query}, out)
}

// PostJSON posts in as JSON to path and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.DoJSON(ctx, RequestOptions{Method: http.MethodPost, Path: path, JSON: in}, out)
}

// PutJSON puts in as JSON to path and decodes the response into out.
func (c *Client) PutJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.DoJSON(ctx, RequestOptions{Method: http.MethodPut, Path: path, JSON: in}, out)
}

// Delete issues a DELETE against path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.DoJSON(ctx, RequestOptions{Method: http.MethodDelete, Path: path}, nil)
}

// CachedGetJSON serves a read endpoint through the short-TTL response cache.
// On refresh failure a stale cached copy is returned when one exists.
func (c *Client) CachedGetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if c.cache == nil {
		return c.GetJSON(ctx, path, query, out)
	}

	key := path
	if len(query) > 0 {
		key = fmt.Sprintf("%s?%s", path, query.Encode())
	}

	val, stale, err := c.cache.GetOrFetch(key, func() (interface{}, error) {
		resp, err := c.Do(ctx, RequestOptions{Method: http.MethodGet, Path: path, Query: query})
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return err
	}
	if stale {
		c.logger.Debug().Str("path", path).Msg("Serving stale cached response")
	}

	data, ok := val.([]byte)
	if !ok {
		return fmt.Errorf("unexpected cache entry type for %s", key)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode cached response: %w", err)
	}
	return nil
}

// CancelPending aborts every currently pending route-scoped request.
// Intended to be invoked on navigation so stale requests from a previous
// view cannot race with the new view. Returns the number of requests
// canceled.
func (c *Client) CancelPending() int {
	n := c.pending.cancelAll()
	if n > 0 {
		c.logger.Debug().Int("count", n).Msg("Canceled pending requests")
	}
	return n
}

// PendingCount returns the number of in-flight route-scoped requests.
func (c *Client) PendingCount() int {
	return c.pending.size()
}

// settledBody deregisters the request from the pending pool when the body is
// closed. Closing twice is safe.
type settledBody struct {
	io.ReadCloser
	settle func()
}

func (b *settledBody) Close() error {
	err := b.ReadCloser.Close()
	b.settle()
	return err
}
