package proxy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/florianilch/vbsession/internal/session"
)

// StateResponse describes the sidecar's session.
type StateResponse struct {
	State         session.State `json:"state"`
	Ready         bool          `json:"ready"`
	Authenticated bool          `json:"authenticated"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
}

// LoginRequest is the body of POST /_session/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// RefreshResponse is the body of POST /_session/refresh.
type RefreshResponse struct {
	Refreshed bool          `json:"refreshed"`
	State     session.State `json:"state"`
}

func (p *Proxy) stateResponse() StateResponse {
	state := p.session.State()
	resp := StateResponse{
		State:         state,
		Ready:         state != session.StateUnknown,
		Authenticated: state == session.StateAuthenticated,
	}
	if tok, err := p.session.Token(); err == nil && !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		resp.ExpiresAt = &expiry
	}
	return resp
}

func (p *Proxy) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, p.stateResponse(), http.StatusOK)
}

func (p *Proxy) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSONError(ctx, w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	_, err := p.session.Login(ctx, session.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		Remember: req.Remember,
	})
	if err != nil {
		writeAPIError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, p.stateResponse(), http.StatusOK)
}

func (p *Proxy) handleLogout(w http.ResponseWriter, r *http.Request) {
	p.session.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (p *Proxy) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ok := p.session.EnsureRefreshed(r.Context())
	writeJSON(r.Context(), w, RefreshResponse{Refreshed: ok, State: p.session.State()}, http.StatusOK)
}
