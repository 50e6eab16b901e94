// Package session is the composition root of the authentication client.
//
// A Session owns the in-memory credential, the cookie jar, the renewal
// coordinator, the request gateway and the readiness signal. Construct one per
// process and hand it to every consumer; nothing in this module keeps package
// level state.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"

	"github.com/florianilch/vbsession/internal/antiforgery"
	"github.com/florianilch/vbsession/internal/credential"
	"github.com/florianilch/vbsession/internal/gateway"
	"github.com/florianilch/vbsession/internal/metrics"
	"github.com/florianilch/vbsession/internal/readiness"
	"github.com/florianilch/vbsession/internal/refresh"
	"github.com/florianilch/vbsession/internal/tokenstore"
)

// RememberCookie is the client-written cookie carrying the refresh token the
// server returned in a login response body.
const RememberCookie = "refreshToken"

// Defaults used when the corresponding Config field is zero.
const (
	DefaultTimeout       = 15 * time.Second
	DefaultLogoutTimeout = 5 * time.Second
	DefaultRememberDays  = 30
)

// Config configures a Session.
type Config struct {
	// BaseURL is the authentication API root, e.g. https://localhost:7104/api/Auth.
	BaseURL string
	// Timeout bounds every backend call made through the default client.
	Timeout time.Duration
	// LogoutTimeout bounds the best-effort logout notification.
	LogoutTimeout time.Duration
	// RememberDays is the lifetime of the remember cookie for remembered logins.
	RememberDays int
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient uses client for all backend calls. A cookie jar is attached
// when the client has none.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		s.client = client
	}
}

// WithRememberStore persists the remember value across restarts.
func WithRememberStore(store tokenstore.Store) Option {
	return func(s *Session) {
		s.remember = store
	}
}

// WithMetrics records refresh, request and readiness metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session is the authentication facade.
type Session struct {
	cfg    Config
	base   *url.URL
	client *http.Client
	jar    http.CookieJar

	credentials *credential.Store
	locator     *antiforgery.Locator
	refresher   *refresh.Coordinator
	gateway     *gateway.Gateway
	ready       *readiness.Signal

	remember    tokenstore.Store
	remembering atomic.Bool
	metrics     *metrics.Metrics

	startOnce sync.Once
	now       func() time.Time
}

// New creates a Session. No network call is made until Start.
func New(cfg Config, opts ...Option) (*Session, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: expected absolute http(s) url", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LogoutTimeout <= 0 {
		cfg.LogoutTimeout = DefaultLogoutTimeout
	}
	if cfg.RememberDays <= 0 {
		cfg.RememberDays = DefaultRememberDays
	}

	s := &Session{
		cfg:         cfg,
		base:        base,
		credentials: credential.NewStore(),
		ready:       readiness.New(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = &http.Client{Timeout: cfg.Timeout}
	}
	if s.client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		client := *s.client
		client.Jar = jar
		s.client = &client
	}
	s.jar = s.client.Jar
	s.locator = antiforgery.NewLocator(s.jar, base)

	s.refresher, err = refresh.New(s.client, base.String(), s.credentials, s.locator,
		refresh.WithMetrics(s.metrics),
		refresh.WithFailureHook(s.forgetRemembered),
		refresh.WithSuccessHook(s.persistRemembered),
	)
	if err != nil {
		return nil, fmt.Errorf("creating refresh coordinator: %w", err)
	}

	s.gateway, err = gateway.New(s.client, base.String(), s.credentials, s.locator, s.refresher,
		gateway.WithMetrics(s.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("creating gateway: %w", err)
	}

	return s, nil
}

// Start runs the one-time session probe and then marks the session ready.
// Both probe outcomes are valid initial states. Only the first call probes;
// later calls return the current state.
func (s *Session) Start(ctx context.Context) State {
	s.startOnce.Do(func() {
		s.seedRemembered(ctx)

		if s.refresher.EnsureRefreshed(ctx) {
			slog.InfoContext(ctx, "session restored")
		} else {
			slog.InfoContext(ctx, "no session to restore, continuing anonymously")
		}

		if s.ready.MarkReady() {
			s.metrics.SetReady()
		}
	})
	return s.State()
}

// State reports the session state. It is Unknown until the probe finished.
func (s *Session) State() State {
	if !s.ready.Ready() {
		return StateUnknown
	}
	if s.credentials.Present() {
		return StateAuthenticated
	}
	return StateAnonymous
}

// CurrentCredential returns the access credential, if any.
func (s *Session) CurrentCredential() (string, bool) {
	return s.credentials.Get()
}

// Token returns the access credential as an oauth2 token.
func (s *Session) Token() (*oauth2.Token, error) {
	return s.credentials.Token()
}

var _ oauth2.TokenSource = (*Session)(nil)

// Do sends an authenticated request through the gateway.
func (s *Session) Do(ctx context.Context, r gateway.Request) (*http.Response, error) {
	return s.gateway.Do(ctx, r)
}

// EnsureRefreshed renews the access credential, joining any renewal in flight.
func (s *Session) EnsureRefreshed(ctx context.Context) bool {
	return s.refresher.EnsureRefreshed(ctx)
}

// WaitReady blocks until the session probe finished or ctx ends.
func (s *Session) WaitReady(ctx context.Context) error {
	return s.ready.Wait(ctx)
}

// AwaitReady waits at most timeout for the probe. False means the caller
// should proceed as anonymous.
func (s *Session) AwaitReady(ctx context.Context, timeout time.Duration) bool {
	return s.ready.Await(ctx, timeout)
}

// OnReady runs fn once the probe finished, immediately if it already has.
func (s *Session) OnReady(fn func()) {
	s.ready.OnReady(fn)
}

// Claims decodes the current credential without verifying it.
func (s *Session) Claims() (*credential.Claims, error) {
	token, ok := s.credentials.Get()
	if !ok {
		return nil, credential.ErrNoCredential
	}
	return credential.DecodeClaims(token)
}

// BaseURL returns the backend base URL.
func (s *Session) BaseURL() string {
	return s.base.String()
}

func (s *Session) endpoint(path string) string {
	return s.base.String() + path
}
