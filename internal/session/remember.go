package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/florianilch/vbsession/internal/tokenstore"
)

// remembered is the persisted form of a remembered login: the backend cookies
// needed to renew the credential after a restart, including the anti-forgery
// cookie. A value that is not JSON is read as a bare refresh value.
type remembered struct {
	Cookies []savedCookie `json:"cookies"`
}

type savedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func decodeRemembered(value string) remembered {
	var r remembered
	if err := json.Unmarshal([]byte(value), &r); err == nil && len(r.Cookies) > 0 {
		return r
	}
	return remembered{Cookies: []savedCookie{{Name: RememberCookie, Value: value}}}
}

// value returns the cookie value stored under name.
func (r remembered) value(name string) (string, bool) {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// seedRemembered puts a persisted login back into the jar so the probe can
// use it.
func (s *Session) seedRemembered(ctx context.Context) {
	if s.remember == nil {
		return
	}
	value, err := s.remember.Read(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return
	}
	if err != nil {
		slog.WarnContext(ctx, "could not read remembered session", "error", err)
		return
	}

	ttl := time.Duration(s.cfg.RememberDays) * 24 * time.Hour
	saved := decodeRemembered(value).Cookies
	cookies := make([]*http.Cookie, 0, len(saved))
	for _, c := range saved {
		cookies = append(cookies, s.cookieFor(c.Name, c.Value, ttl))
	}
	s.jar.SetCookies(s.base, cookies)
	s.remembering.Store(true)
}

// persistRemembered saves the jar's backend cookies while the login is
// remembered. It runs after every successful renewal because the server may
// rotate them.
func (s *Session) persistRemembered(ctx context.Context) {
	if s.remember == nil || !s.remembering.Load() {
		return
	}

	var r remembered
	for _, c := range s.jar.Cookies(s.base) {
		if c.Value != "" {
			r.Cookies = append(r.Cookies, savedCookie{Name: c.Name, Value: c.Value})
		}
	}
	if len(r.Cookies) == 0 {
		return
	}

	data, err := json.Marshal(r)
	if err != nil {
		slog.WarnContext(ctx, "could not encode remembered session", "error", err)
		return
	}
	if err := s.remember.Write(context.WithoutCancel(ctx), string(data)); err != nil {
		slog.WarnContext(ctx, "could not persist remembered session", "error", err)
	}
}

// forgetRemembered drops the remember value, after logout or after the server
// rejected it.
func (s *Session) forgetRemembered(ctx context.Context) {
	s.remembering.Store(false)
	s.clearRememberCookie()
	if s.remember == nil {
		return
	}
	if err := s.remember.Clear(context.WithoutCancel(ctx)); err != nil {
		slog.WarnContext(ctx, "could not clear remembered session", "error", err)
	}
}

func (s *Session) setRememberCookie(value string, ttl time.Duration) {
	s.jar.SetCookies(s.base, []*http.Cookie{s.cookieFor(RememberCookie, value, ttl)})
}

func (s *Session) clearRememberCookie() {
	s.jar.SetCookies(s.base, []*http.Cookie{{
		Name:   RememberCookie,
		Path:   "/",
		MaxAge: -1,
	}})
}

func (s *Session) cookieFor(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  s.now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		Secure:   s.base.Scheme == "https",
		SameSite: http.SameSiteLaxMode,
	}
}
