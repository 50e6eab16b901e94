// Package proxy is the local sidecar through which page modules make
// authenticated backend calls without ever holding a credential.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/vbsession/internal/gateway"
	"github.com/florianilch/vbsession/internal/observability/middleware"
	"github.com/florianilch/vbsession/internal/session"
)

// DefaultReadyTimeout bounds how long a forwarded call waits for the session
// probe before going ahead anonymously.
const DefaultReadyTimeout = 3 * time.Second

// Session is the part of the session facade the sidecar needs.
type Session interface {
	Do(ctx context.Context, r gateway.Request) (*http.Response, error)
	AwaitReady(ctx context.Context, timeout time.Duration) bool
	State() session.State
	Token() (*oauth2.Token, error)
	Login(ctx context.Context, r session.LoginRequest) (*session.TokenResponse, error)
	Logout(ctx context.Context)
	EnsureRefreshed(ctx context.Context) bool
	BaseURL() string
}

var _ Session = (*session.Session)(nil)

// Option configures a Proxy.
type Option func(*Proxy)

// WithReadyTimeout sets how long forwarded calls wait for the session probe.
func WithReadyTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		p.readyTimeout = d
	}
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(p *Proxy) {
		p.metrics = h
	}
}

// Proxy is the sidecar HTTP server.
type Proxy struct {
	session      Session
	origin       *url.URL
	readyTimeout time.Duration
	metrics      http.Handler

	handler http.Handler
	server  *http.Server
}

var _ http.Handler = (*Proxy)(nil)

// New creates the sidecar for sess.
func New(sess Session, opts ...Option) (*Proxy, error) {
	if sess == nil {
		return nil, fmt.Errorf("missing session")
	}
	base, err := url.Parse(sess.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}

	p := &Proxy{
		session:      sess,
		origin:       &url.URL{Scheme: base.Scheme, Host: base.Host},
		readyTimeout: DefaultReadyTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	mux := http.NewServeMux()

	// Backend API, same path on the backend origin.
	mux.HandleFunc("/api/", p.forward)

	mux.HandleFunc("GET /_session", p.handleState)
	mux.HandleFunc("POST /_session/login", p.handleLogin)
	mux.HandleFunc("POST /_session/logout", p.handleLogout)
	mux.HandleFunc("POST /_session/refresh", p.handleRefresh)

	if p.metrics != nil {
		mux.Handle("GET /metrics", p.metrics)
	}

	p.handler = applyMiddlewares(mux,
		middleware.Logging(slog.Default()),
		middleware.TraceContext,
		middleware.Recovery,
	)

	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

// applyMiddlewares wraps h so the first middleware runs outermost.
func applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
