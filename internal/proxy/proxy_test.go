package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/vbsession/internal/apierror"
	"github.com/florianilch/vbsession/internal/gateway"
	"github.com/florianilch/vbsession/internal/session"
)

// fakeSession records calls and returns canned results.
type fakeSession struct {
	mu sync.Mutex

	ready    bool
	state    session.State
	token    *oauth2.Token
	loginErr error
	doErr    error
	doResp   func() *http.Response

	requests  []gateway.Request
	logins    []session.LoginRequest
	logouts   int
	refreshes int
}

func (f *fakeSession) Do(_ context.Context, r gateway.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
	if f.doErr != nil {
		return nil, f.doErr
	}
	return f.doResp(), nil
}

func (f *fakeSession) AwaitReady(context.Context, time.Duration) bool { return f.ready }

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Token() (*oauth2.Token, error) {
	if f.token == nil {
		return nil, errors.New("no credential")
	}
	return f.token, nil
}

func (f *fakeSession) Login(_ context.Context, r session.LoginRequest) (*session.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, r)
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	f.state = session.StateAuthenticated
	return &session.TokenResponse{AccessToken: "tok1", ExpiresInSeconds: 900}, nil
}

func (f *fakeSession) Logout(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.state = session.StateAnonymous
}

func (f *fakeSession) EnsureRefreshed(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.state == session.StateAuthenticated
}

func (f *fakeSession) BaseURL() string { return "https://backend.test:7104/api/Auth" }

func okResponse(body string, header http.Header) func() *http.Response {
	return func() *http.Response {
		if header == nil {
			header = make(http.Header)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     header.Clone(),
			Body:       io.NopCloser(strings.NewReader(body)),
		}
	}
}

func newTestProxy(t *testing.T, sess Session, opts ...Option) *Proxy {
	t.Helper()
	p, err := New(sess, opts...)
	if err != nil {
		t.Fatalf("failed to create proxy: %v", err)
	}
	return p
}

func TestForward(t *testing.T) {
	sess := &fakeSession{
		ready: true,
		doResp: okResponse(`[{"id":1}]`, http.Header{
			"Content-Type": []string{"application/json"},
			"Set-Cookie":   []string{"refreshToken=r2; HttpOnly"},
			"Connection":   []string{"keep-alive"},
			"Etag":         []string{`"v1"`},
		}),
	}
	p := newTestProxy(t, sess)

	req := httptest.NewRequest(http.MethodPost, "/api/CartApi/AddItem?qty=2", strings.NewReader(`{"sku":"A1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer caller-supplied")
	req.Header.Set("Cookie", "refreshToken=caller")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != `[{"id":1}]` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get("Set-Cookie") != "" || rec.Header().Get("Connection") != "" {
		t.Fatalf("hop-by-hop or cookie headers leaked: %v", rec.Header())
	}
	if rec.Header().Get("Etag") != `"v1"` {
		t.Fatalf("end-to-end headers should be kept: %v", rec.Header())
	}

	if len(sess.requests) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(sess.requests))
	}
	got := sess.requests[0]
	if got.Method != http.MethodPost || got.Path != "https://backend.test:7104/api/CartApi/AddItem?qty=2" {
		t.Fatalf("unexpected target %s %s", got.Method, got.Path)
	}
	if string(got.Body) != `{"sku":"A1"}` {
		t.Fatalf("unexpected body %q", got.Body)
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Fatal("content type should be forwarded")
	}
	if got.Header.Get("Authorization") != "" || got.Header.Get("Cookie") != "" {
		t.Fatalf("caller credentials must not be forwarded: %v", got.Header)
	}
}

func TestForwardWhenNotReady(t *testing.T) {
	sess := &fakeSession{ready: false, doResp: okResponse("[]", nil)}
	p := newTestProxy(t, sess, WithReadyTimeout(time.Millisecond))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ContentArticleContentAPI/Trending", nil))

	if rec.Code != http.StatusOK || len(sess.requests) != 1 {
		t.Fatalf("expected degraded forward, got %d with %d calls", rec.Code, len(sess.requests))
	}
}

func TestForwardBackendUnreachable(t *testing.T) {
	sess := &fakeSession{ready: true, doErr: errors.New("dial tcp: connection refused")}
	p := newTestProxy(t, sess)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/Orders/user", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error == "" {
		t.Fatalf("expected JSON error, got %q (%v)", rec.Body.String(), err)
	}
}

func TestForwardBodyTooLarge(t *testing.T) {
	sess := &fakeSession{ready: true, doResp: okResponse("", nil)}
	p := newTestProxy(t, sess)

	big := strings.NewReader(strings.Repeat("x", maxRequestBytes+1))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/UploadFile", big))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if len(sess.requests) != 0 {
		t.Fatal("oversized request must not be forwarded")
	}
}

func TestSessionState(t *testing.T) {
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	sess := &fakeSession{state: session.StateAuthenticated, token: &oauth2.Token{AccessToken: "tok1", Expiry: expiry}}
	p := newTestProxy(t, sess)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_session", nil))

	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["state"] != "authenticated" || got["ready"] != true || got["authenticated"] != true {
		t.Fatalf("unexpected state response %v", got)
	}
	if got["expires_at"] != "2030-01-01T00:00:00Z" {
		t.Fatalf("unexpected expiry %v", got["expires_at"])
	}
	if _, ok := got["access_token"]; ok {
		t.Fatal("credential must not be exposed")
	}
}

func TestSessionLogin(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		loginErr   error
		wantStatus int
		wantClass  string
	}{
		{name: "success", body: `{"email":"a@x.com","password":"secret1","remember":true}`, wantStatus: http.StatusOK},
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest},
		{
			name:       "rejected",
			body:       `{"email":"a@x.com","password":"nope"}`,
			loginErr:   &apierror.Error{Status: http.StatusUnauthorized, Message: "wrong password", Classification: apierror.Unauthorized},
			wantStatus: http.StatusUnauthorized,
			wantClass:  "unauthorized",
		},
		{
			name:       "local validation",
			body:       `{"email":"nope"}`,
			loginErr:   apierror.Invalid(map[string][]string{"email": {"email must be a valid email address"}}),
			wantStatus: http.StatusBadRequest,
			wantClass:  "validation",
		},
		{
			name:       "network",
			body:       `{"email":"a@x.com","password":"secret1"}`,
			loginErr:   apierror.FromTransport(errors.New("connection refused")),
			wantStatus: http.StatusBadGateway,
			wantClass:  "network",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{state: session.StateAnonymous, loginErr: tt.loginErr}
			p := newTestProxy(t, sess)

			rec := httptest.NewRecorder()
			p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_session/login", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantClass != "" {
				var body ErrorResponse
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatal(err)
				}
				if body.Classification != tt.wantClass {
					t.Fatalf("expected classification %q, got %q", tt.wantClass, body.Classification)
				}
			}
			if tt.name == "success" {
				if len(sess.logins) != 1 || !sess.logins[0].Remember {
					t.Fatalf("unexpected login calls %+v", sess.logins)
				}
			}
		})
	}
}

func TestSessionLogoutAndRefresh(t *testing.T) {
	sess := &fakeSession{state: session.StateAuthenticated}
	p := newTestProxy(t, sess)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_session/refresh", nil))
	var refreshed RefreshResponse
	if err := json.NewDecoder(rec.Body).Decode(&refreshed); err != nil {
		t.Fatal(err)
	}
	if !refreshed.Refreshed || refreshed.State != session.StateAuthenticated {
		t.Fatalf("unexpected refresh response %+v", refreshed)
	}

	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_session/logout", nil))
	if rec.Code != http.StatusNoContent || sess.logouts != 1 {
		t.Fatalf("expected 204 and one logout, got %d and %d", rec.Code, sess.logouts)
	}
	if sess.State() != session.StateAnonymous {
		t.Fatal("expected anonymous after logout")
	}
}

func TestMetricsRoute(t *testing.T) {
	sess := &fakeSession{}

	p := newTestProxy(t, sess)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics handler, got %d", rec.Code)
	}

	p = newTestProxy(t, sess, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "vbsession_ready 1\n")
	})))
	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "vbsession_ready") {
		t.Fatalf("unexpected metrics response %d %q", rec.Code, rec.Body.String())
	}
}

func TestStartShutdown(t *testing.T) {
	p := newTestProxy(t, &fakeSession{state: session.StateAnonymous})

	errCh, err := p.Start(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
}

func TestEndToEnd(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auth/login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"accessToken":"tok1","expiresInSeconds":900}`)
		case "/api/Member/profile":
			mu.Lock()
			seen = append(seen, r.Header.Get("Authorization"))
			mu.Unlock()
			_, _ = io.WriteString(w, `{"name":"Ann"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(backend.Close)

	sess, err := session.New(session.Config{BaseURL: backend.URL + "/api/Auth"})
	if err != nil {
		t.Fatal(err)
	}
	sess.Start(context.Background())
	p := newTestProxy(t, sess)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_session/login", strings.NewReader(`{"email":"a@x.com","password":"secret1"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/Member/profile", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Ann") {
		t.Fatalf("unexpected profile response %d %q", rec.Code, rec.Body.String())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "Bearer tok1" {
		t.Fatalf("expected sidecar to attach the credential, got %v", seen)
	}
}
