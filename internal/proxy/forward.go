package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/florianilch/vbsession/internal/gateway"
)

// maxRequestBytes bounds forwarded request bodies.
const maxRequestBytes = 10 << 20

// forwardedRequestHeaders are passed on to the backend. Credentials and
// cookies are never taken from the caller.
var forwardedRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"Content-Type",
	"If-Match",
	"If-None-Match",
	"If-Modified-Since",
	gateway.RequestIDHeader,
}

// droppedResponseHeaders are hop-by-hop headers plus Set-Cookie, which belongs
// to the session's cookie jar.
var droppedResponseHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Set-Cookie",
}

// forward sends the request through the gateway to the same path on the
// backend origin.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !p.session.AwaitReady(ctx, p.readyTimeout) {
		slog.DebugContext(ctx, "session not ready, forwarding anonymously", "path", r.URL.Path)
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONError(ctx, w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			writeJSONError(ctx, w, "failed to read request body", http.StatusBadRequest)
			return
		}
	}

	target := *p.origin
	target.Path = r.URL.Path
	target.RawPath = r.URL.RawPath
	target.RawQuery = r.URL.RawQuery

	header := make(http.Header)
	for _, name := range forwardedRequestHeaders {
		if values := r.Header.Values(name); len(values) > 0 {
			header[http.CanonicalHeaderKey(name)] = values
		}
	}

	resp, err := p.session.Do(ctx, gateway.Request{
		Method: r.Method,
		Path:   target.String(),
		Header: header,
		Body:   body,
	})
	if err != nil {
		slog.WarnContext(ctx, "backend unreachable", "path", r.URL.Path, "error", err)
		writeJSONError(ctx, w, "backend unreachable", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for name, values := range resp.Header {
		w.Header()[name] = values
	}
	for _, name := range droppedResponseHeaders {
		w.Header().Del(name)
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.WarnContext(ctx, "failed to copy backend response", "path", r.URL.Path, "error", err)
	}
}
