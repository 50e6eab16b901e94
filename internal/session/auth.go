package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/florianilch/vbsession/internal/antiforgery"
	"github.com/florianilch/vbsession/internal/apierror"
	"github.com/florianilch/vbsession/internal/refresh"
)

var (
	// ErrInvalidCredentials is returned by Login when the server rejects the
	// email and password.
	ErrInvalidCredentials = apierror.ErrUnauthorized
	// ErrDuplicateAccount is returned by Register when the email is taken.
	ErrDuplicateAccount = apierror.ErrDuplicate
	// ErrValidation is returned when a payload fails local or server checks.
	ErrValidation = apierror.ErrValidation
)

// TokenResponse is the body of a successful login.
type TokenResponse = refresh.TokenResponse

// LoginRequest holds login credentials. Remember keeps the returned refresh
// token for RememberDays instead of one day.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Remember bool   `json:"-"`
}

// RegisterRequest holds a new account profile.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// Login exchanges credentials for an access credential. A rejected login is
// not a renewal scenario, so there is no refresh or retry.
func (s *Session) Login(ctx context.Context, r LoginRequest) (*TokenResponse, error) {
	if err := check(r); err != nil {
		return nil, err
	}

	tr, err := s.exchange(ctx, "/login", r)
	if err != nil {
		if e, ok := apierror.As(err); ok && (e.Status == http.StatusBadRequest || e.Status == http.StatusUnauthorized) {
			e.Classification = apierror.Unauthorized
		}
		return nil, err
	}

	s.applyTokenResponse(ctx, tr, r.Remember)
	slog.InfoContext(ctx, "logged in", "email", r.Email, "remember", r.Remember)
	return tr, nil
}

// GoogleLogin exchanges a Google ID token for an access credential.
func (s *Session) GoogleLogin(ctx context.Context, idToken string, remember bool) (*TokenResponse, error) {
	if idToken == "" {
		return nil, apierror.Invalid(map[string][]string{"idToken": {"idToken is required"}})
	}

	tr, err := s.exchange(ctx, "/google", map[string]string{"idToken": idToken})
	if err != nil {
		return nil, err
	}

	s.applyTokenResponse(ctx, tr, remember)
	slog.InfoContext(ctx, "logged in with google", "remember", remember)
	return tr, nil
}

// Register creates an account. The returned confirmation is the response body
// when it is JSON, the body as a JSON string when it is text, or nil.
func (s *Session) Register(ctx context.Context, r RegisterRequest) (json.RawMessage, error) {
	if err := check(r); err != nil {
		return nil, err
	}

	resp, err := s.post(ctx, "/register", r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apierror.FromResponse(resp)
	}

	body, err := readAll(resp)
	if err != nil {
		return nil, apierror.FromTransport(err)
	}
	slog.InfoContext(ctx, "registered account", "email", r.Email)
	return confirmation(body), nil
}

// Logout notifies the server, then clears the credential, the remember cookie
// and the remember store. Clearing happens even when the notification fails or
// times out.
func (s *Session) Logout(ctx context.Context) {
	defer s.clearLocal(ctx)

	notifyCtx, cancel := context.WithTimeout(ctx, s.cfg.LogoutTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(notifyCtx, http.MethodPost, s.endpoint("/logout"), nil)
	if err != nil {
		slog.WarnContext(ctx, "logout notification failed", "error", err)
		return
	}
	if token, ok := s.credentials.Get(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if xsrf, ok := s.locator.Locate(); ok {
		antiforgery.Attach(req.Header, xsrf)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "logout notification failed", "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.WarnContext(ctx, "logout notification rejected", "status", resp.StatusCode)
		return
	}
	slog.InfoContext(ctx, "logged out")
}

func (s *Session) clearLocal(ctx context.Context) {
	s.credentials.Clear()
	s.forgetRemembered(ctx)
}

// applyTokenResponse stores the credential and, when the server returned a
// refresh token in the body, writes it to the remember cookie. A remembered
// login is persisted; any other login drops what was persisted before.
func (s *Session) applyTokenResponse(ctx context.Context, tr *TokenResponse, remember bool) {
	s.credentials.Set(tr.AccessToken, tr.ExpiresIn())

	if tr.RefreshToken != "" {
		days := 1
		if remember {
			days = s.cfg.RememberDays
		}
		s.setRememberCookie(tr.RefreshToken, time.Duration(days)*24*time.Hour)
	}

	if s.remember == nil {
		return
	}
	s.remembering.Store(remember)
	if remember {
		s.persistRemembered(ctx)
		return
	}
	if err := s.remember.Clear(ctx); err != nil {
		slog.WarnContext(ctx, "could not update remembered session", "error", err)
	}
}

// exchange posts payload and decodes a token response.
func (s *Session) exchange(ctx context.Context, path string, payload any) (*TokenResponse, error) {
	resp, err := s.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apierror.FromResponse(resp)
	}

	body, err := readAll(resp)
	if err != nil {
		return nil, apierror.FromTransport(err)
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		e := apierror.Normalize(resp.StatusCode, body)
		e.Classification = apierror.Unknown
		e.Message = "response missing accessToken"
		return nil, e
	}
	return &tr, nil
}

// post sends a JSON body directly, without the gateway's refresh handling.
func (s *Session) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return s.send(ctx, http.MethodPost, path, "application/json", data)
}

// send issues a direct call. Cookies and the anti-forgery token are sent so the
// server can set and check them. Transport failures are returned as Network
// errors.
func (s *Session) send(ctx context.Context, method, path, contentType string, data []byte) (*http.Response, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" && data != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if xsrf, ok := s.locator.Locate(); ok {
		antiforgery.Attach(req.Header, xsrf)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apierror.FromTransport(err)
	}
	return resp, nil
}

func readAll(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

func confirmation(body []byte) json.RawMessage {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}
