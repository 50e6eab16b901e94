// Package gateway sends authenticated requests to the backend.
//
// Every request carries the current access credential, the anti-forgery token
// and the session cookies. An unauthorized response triggers one credential
// renewal and, if that succeeds, exactly one retry of the original request.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/florianilch/vbsession/internal/antiforgery"
	"github.com/florianilch/vbsession/internal/metrics"
)

// RequestIDHeader correlates an original attempt and its retry in backend logs.
const RequestIDHeader = "X-Request-Id"

// maxDiscardBytes bounds how much of a discarded 401 body is drained so the
// connection can be reused.
const maxDiscardBytes = 64 << 10

// Credentials provides the current access credential.
type Credentials interface {
	Get() (string, bool)
}

// Locator finds the current anti-forgery token.
type Locator interface {
	Locate() (string, bool)
}

// Refresher renews the access credential.
type Refresher interface {
	EnsureRefreshed(ctx context.Context) bool
}

// Request describes one authenticated call.
type Request struct {
	Method string
	// Path is appended to the backend base URL. Absolute http(s) URLs are
	// used as-is.
	Path   string
	Header http.Header
	// Body is resent verbatim on retry.
	Body []byte
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics records attempts and retries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// Gateway sends authenticated requests.
type Gateway struct {
	client      *http.Client
	baseURL     string
	credentials Credentials
	locator     Locator
	refresher   Refresher
	metrics     *metrics.Metrics
}

// New creates a Gateway. client must carry the session cookie jar; cookies are
// sent on every request regardless of caller intent because renewal depends
// on them.
func New(client *http.Client, baseURL string, credentials Credentials, locator Locator, refresher Refresher, opts ...Option) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("missing http client")
	}
	if client.Jar == nil {
		return nil, fmt.Errorf("http client has no cookie jar")
	}
	if credentials == nil || locator == nil || refresher == nil {
		return nil, fmt.Errorf("missing credentials, locator or refresher")
	}

	g := &Gateway{
		client:      client,
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		locator:     locator,
		refresher:   refresher,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Do sends r and returns whatever response was ultimately obtained, including
// non-2xx responses; interpreting the body is the caller's job. The returned
// error is non-nil only when no response was received.
func (g *Gateway) Do(ctx context.Context, r Request) (*http.Response, error) {
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if header.Get(RequestIDHeader) == "" {
		header.Set(RequestIDHeader, uuid.NewString())
	}
	r.Header = header

	return g.do(ctx, r, true)
}

// do sends one attempt. allowRetry bounds the recursion to a single retry.
func (g *Gateway) do(ctx context.Context, r Request, allowRetry bool) (*http.Response, error) {
	req, err := g.newRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.metrics.ObserveRequest(0)
		return nil, fmt.Errorf("sending %s %s: %w", r.Method, r.Path, err)
	}
	g.metrics.ObserveRequest(resp.StatusCode)

	if resp.StatusCode != http.StatusUnauthorized || !allowRetry {
		return resp, nil
	}

	if !g.refresher.EnsureRefreshed(ctx) {
		// The caller sees exactly what the server said.
		return resp, nil
	}

	discard(resp)
	g.metrics.ObserveRetry()
	slog.DebugContext(ctx, "retrying after credential renewal", "method", r.Method, "path", r.Path)

	return g.do(ctx, r, false)
}

func (g *Gateway) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, g.resolve(r.Path), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	if token, ok := g.credentials.Get(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if xsrf, ok := g.locator.Locate(); ok {
		antiforgery.Attach(req.Header, xsrf)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

func (g *Gateway) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return g.baseURL + path
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDiscardBytes))
	_ = resp.Body.Close()
}
