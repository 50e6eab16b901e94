// Package refresh renews the access credential from the server-managed refresh
// cookie.
//
// Renewals are single-flight: any number of concurrent EnsureRefreshed calls
// collapse into one network call and all observe its outcome. The flight is
// forgotten as soon as it settles, so a failure is never served to a later
// caller.
package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/florianilch/vbsession/internal/antiforgery"
	"github.com/florianilch/vbsession/internal/credential"
	"github.com/florianilch/vbsession/internal/metrics"
)

// Path is the renewal endpoint relative to the backend base URL.
const Path = "/refresh"

const flightKey = "refresh"

var (
	// ErrAntiForgeryMissing means no anti-forgery token was available, so the
	// renewal endpoint was not called.
	ErrAntiForgeryMissing = errors.New("anti-forgery token missing")
	// ErrMissingAccessToken means the server answered 2xx without a credential.
	ErrMissingAccessToken = errors.New("refresh response missing accessToken")
)

// RejectedError is a non-2xx renewal response.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("refresh rejected with status %d", e.Status)
}

// Locator finds the current anti-forgery token.
type Locator interface {
	Locate() (string, bool)
}

// TokenResponse is the renewal (and login) response body.
type TokenResponse struct {
	AccessToken      string `json:"accessToken"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
	RefreshToken     string `json:"refreshToken,omitempty"`
}

// ExpiresIn returns the advertised lifetime.
func (t TokenResponse) ExpiresIn() time.Duration {
	return time.Duration(t.ExpiresInSeconds) * time.Second
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics records renewal outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithFailureHook runs fn after a failed renewal cleared the credential.
func WithFailureHook(fn func(ctx context.Context)) Option {
	return func(c *Coordinator) {
		c.onFailure = fn
	}
}

// WithSuccessHook runs fn after a renewal stored a fresh credential.
func WithSuccessHook(fn func(ctx context.Context)) Option {
	return func(c *Coordinator) {
		c.onSuccess = fn
	}
}

// Coordinator performs credential renewals.
type Coordinator struct {
	client  *http.Client
	url     string
	store   *credential.Store
	locator Locator

	group     singleflight.Group
	metrics   *metrics.Metrics
	onFailure func(ctx context.Context)
	onSuccess func(ctx context.Context)
}

// New creates a Coordinator calling baseURL+Path with client. The client must
// carry the cookie jar holding the refresh cookie.
func New(client *http.Client, baseURL string, store *credential.Store, locator Locator, opts ...Option) (*Coordinator, error) {
	if client == nil {
		return nil, fmt.Errorf("missing http client")
	}
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}
	if locator == nil {
		return nil, fmt.Errorf("missing anti-forgery locator")
	}

	c := &Coordinator{
		client:  client,
		url:     baseURL + Path,
		store:   store,
		locator: locator,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EnsureRefreshed renews the credential, joining a renewal already in flight.
// It reports whether a fresh credential is now held. Expected failures are
// reported as false, never as errors.
//
// The renewal itself is not canceled when ctx ends; a caller whose ctx ends
// stops waiting and gets false while other callers still receive the outcome.
func (c *Coordinator) EnsureRefreshed(ctx context.Context) bool {
	// Detached so the first caller's cancellation cannot abort a renewal that
	// others have joined.
	flightCtx := context.WithoutCancel(ctx)

	ch := c.group.DoChan(flightKey, func() (any, error) {
		err := c.renew(flightCtx)
		return err == nil, nil
	})

	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		return false
	}
}

// renew runs one renewal sequence and updates the credential store.
func (c *Coordinator) renew(ctx context.Context) error {
	err := c.exchange(ctx)

	outcome := metrics.RefreshSuccess
	var rejected *RejectedError
	switch {
	case err == nil:
	case errors.Is(err, ErrAntiForgeryMissing):
		outcome = metrics.RefreshNoAntiForgery
	case errors.Is(err, ErrMissingAccessToken):
		outcome = metrics.RefreshMissingCredential
	case errors.As(err, &rejected):
		outcome = metrics.RefreshRejected
	default:
		outcome = metrics.RefreshTransportError
	}
	c.metrics.ObserveRefresh(outcome)

	if err == nil {
		slog.DebugContext(ctx, "credential renewed")
		if c.onSuccess != nil {
			c.onSuccess(ctx)
		}
		return nil
	}

	c.store.Clear()

	if errors.Is(err, ErrAntiForgeryMissing) {
		// Nothing was asked of the server, so the remembered value is not
		// known to be bad and the failure hook is skipped.
		slog.DebugContext(ctx, "skipping credential renewal", "reason", err)
		return err
	}

	if rejected != nil {
		slog.WarnContext(ctx, "credential renewal rejected", "status", rejected.Status, "body", rejected.Body)
	} else {
		slog.WarnContext(ctx, "credential renewal failed", "error", err)
	}

	if c.onFailure != nil {
		c.onFailure(ctx)
	}
	return err
}

// exchange calls the renewal endpoint.
func (c *Coordinator) exchange(ctx context.Context) error {
	xsrf, ok := c.locator.Locate()
	if !ok {
		return ErrAntiForgeryMissing
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, nil)
	if err != nil {
		return fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	antiforgery.Attach(req.Header, xsrf)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending refresh request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &RejectedError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decoding body: %v", ErrMissingAccessToken, err)
	}
	if tr.AccessToken == "" {
		return ErrMissingAccessToken
	}

	c.store.Set(tr.AccessToken, tr.ExpiresIn())
	return nil
}
