// Package antiforgery locates the server-issued anti-forgery token in the
// session's cookie jar and attaches it to outgoing requests.
package antiforgery

import (
	"net/http"
	"net/url"
	"strings"
)

// Header names the token is echoed under. Servers differ in which one they
// check, so both are always sent.
const (
	HeaderXSRF                     = "X-XSRF-TOKEN"
	HeaderRequestVerificationToken = "RequestVerificationToken"
)

// aspNetCorePrefix matches the vendor-prefixed antiforgery cookie
// (e.g. ".AspNetCore.Antiforgery.Xq3s").
const aspNetCorePrefix = ".AspNetCore.Antiforgery"

// cookieNames are checked in order before the prefix fallback.
var cookieNames = []string{"XSRF-TOKEN", "X-CSRF-TOKEN", "XSRFTOKEN", "csrf-token"}

// CookieSource provides the cookies that would be sent to a URL.
// http.CookieJar satisfies it.
type CookieSource interface {
	Cookies(u *url.URL) []*http.Cookie
}

// Locator reads the anti-forgery token for one backend URL.
type Locator struct {
	cookies CookieSource
	target  *url.URL
}

// NewLocator creates a Locator reading cookies scoped to target.
func NewLocator(cookies CookieSource, target *url.URL) *Locator {
	return &Locator{cookies: cookies, target: target}
}

// Locate returns the current anti-forgery token.
// The jar is read on every call because the server may rotate the token.
func (l *Locator) Locate() (string, bool) {
	if l == nil || l.cookies == nil || l.target == nil {
		return "", false
	}
	return Find(l.cookies.Cookies(l.target))
}

// Find picks the anti-forgery token from a cookie list.
func Find(cookies []*http.Cookie) (string, bool) {
	byName := make(map[string]string, len(cookies))
	for _, c := range cookies {
		if c.Value == "" {
			continue
		}
		if _, seen := byName[c.Name]; !seen {
			byName[c.Name] = c.Value
		}
	}

	for _, name := range cookieNames {
		if v, ok := byName[name]; ok {
			return decode(v), true
		}
	}

	for _, c := range cookies {
		if c.Value != "" && strings.HasPrefix(c.Name, aspNetCorePrefix) {
			return decode(c.Value), true
		}
	}

	return "", false
}

// Attach sets the token under both conventional header names.
func Attach(h http.Header, token string) {
	if token == "" {
		return
	}
	h.Set(HeaderXSRF, token)
	h.Set(HeaderRequestVerificationToken, token)
}

// decode undoes URL encoding applied by servers that escape the cookie value.
func decode(v string) string {
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}
