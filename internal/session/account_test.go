package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/florianilch/vbsession/internal/apierror"
)

func TestMe(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"/login": tokenHandler("tok1", ""),
		"/me": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"Name":"Ann","Email":"a@x.com","roles":["member"]}`)
		},
	})
	s := newTestSession(t, b)

	if _, err := s.Me(context.Background()); !errors.Is(err, apierror.ErrUnauthorized) {
		t.Fatalf("expected unauthorized before login, got %v", err)
	}

	if _, err := s.Login(context.Background(), LoginRequest{Email: "a@x.com", Password: "secret1"}); err != nil {
		t.Fatal(err)
	}
	u, err := s.Me(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Name != "Ann" || u.Email != "a@x.com" || u.DisplayName() != "Ann" {
		t.Fatalf("unexpected profile %+v", u)
	}
	if !strings.Contains(string(u.Raw), "member") {
		t.Fatalf("raw profile not kept: %s", u.Raw)
	}
}

func TestDisplayNameFallsBackToEmail(t *testing.T) {
	u := &User{Email: "a@x.com"}
	if u.DisplayName() != "a@x.com" {
		t.Fatalf("unexpected display name %q", u.DisplayName())
	}
}

func TestForgotPassword(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{name: "server message", status: http.StatusOK, body: `{"message":"check your inbox"}`, want: "check your inbox"},
		{name: "empty body", status: http.StatusOK, want: "password reset email sent"},
		{name: "rejected", status: http.StatusNotFound, body: `{"message":"unknown email"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]string
			b := newBackend(t, map[string]http.HandlerFunc{
				"/forgot-password": func(w http.ResponseWriter, r *http.Request) {
					_ = json.NewDecoder(r.Body).Decode(&got)
					w.WriteHeader(tt.status)
					_, _ = io.WriteString(w, tt.body)
				},
			})
			s := newTestSession(t, b)

			msg, err := s.ForgotPassword(context.Background(), "a@x.com")
			if tt.wantErr {
				e, ok := apierror.As(err)
				if !ok || e.Message != "unknown email" {
					t.Fatalf("expected normalized error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, msg)
			}
			if got["email"] != "a@x.com" {
				t.Fatalf("unexpected payload %v", got)
			}
		})
	}
}

func TestResetPassword(t *testing.T) {
	var got map[string]string
	b := newBackend(t, map[string]http.HandlerFunc{
		"/reset-password": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusOK)
		},
	})
	s := newTestSession(t, b)

	_, err := s.ResetPassword(context.Background(), ResetPasswordRequest{Token: "t", NewPassword: "secret2", ConfirmPassword: "secret3"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for mismatch, got %v", err)
	}
	if b.count("/reset-password") != 0 {
		t.Fatal("invalid payload must not be sent")
	}

	msg, err := s.ResetPassword(context.Background(), ResetPasswordRequest{Token: "t", NewPassword: "secret2", ConfirmPassword: "secret2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != "password has been reset" {
		t.Fatalf("unexpected message %q", msg)
	}
	if got["token"] != "t" || got["newPassword"] != "secret2" || got["confirmPassword"] != "secret2" {
		t.Fatalf("unexpected payload %v", got)
	}
	if _, ok := got["email"]; ok {
		t.Fatal("empty email should be omitted")
	}
}

func TestChangePasswordRenewsCredential(t *testing.T) {
	var mu sync.Mutex
	var auths []string
	b := newBackend(t, map[string]http.HandlerFunc{
		"/login":   tokenHandler("tok1", ""),
		"/refresh": tokenHandler("tok2", ""),
		"/change-password": func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			auths = append(auths, r.Header.Get("Authorization"))
			mu.Unlock()
			if r.Header.Get("Authorization") != "Bearer tok2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"message":"password updated"}`)
		},
	})
	s := newTestSession(t, b)
	s.seedAntiForgery("x")
	if _, err := s.Login(context.Background(), LoginRequest{Email: "a@x.com", Password: "secret1"}); err != nil {
		t.Fatal(err)
	}

	msg, err := s.ChangePassword(context.Background(), ChangePasswordRequest{OldPassword: "secret1", NewPassword: "secret2", ConfirmPassword: "secret2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != "password updated" {
		t.Fatalf("unexpected message %q", msg)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(auths) != 2 || auths[1] != "Bearer tok2" {
		t.Fatalf("expected retry with renewed credential, got %v", auths)
	}
}

func TestChangePasswordValidatesLocally(t *testing.T) {
	b := newBackend(t, nil)
	s := newTestSession(t, b)

	_, err := s.ChangePassword(context.Background(), ChangePasswordRequest{OldPassword: "secret1", NewPassword: "secret1", ConfirmPassword: "secret1"})
	e, ok := apierror.As(err)
	if !ok || !errors.Is(err, ErrValidation) || e.FieldError("newPassword") == "" {
		t.Fatalf("expected newPassword field error, got %v", err)
	}
}

func TestVerifyEmail(t *testing.T) {
	var query map[string]string
	b := newBackend(t, map[string]http.HandlerFunc{
		"/verify": func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("expected GET, got %s", r.Method)
			}
			query = map[string]string{"email": r.URL.Query().Get("email"), "token": r.URL.Query().Get("token")}
			if r.URL.Query().Get("token") != "a+b/c" {
				http.Error(w, `{"message":"invalid token"}`, http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, "verified")
		},
	})
	s := newTestSession(t, b)

	msg, err := s.VerifyEmail(context.Background(), "a+1@x.com", "a+b/c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != "verified" {
		t.Fatalf("unexpected message %q", msg)
	}
	if query["email"] != "a+1@x.com" {
		t.Fatalf("query not encoded correctly: %v", query)
	}

	_, err = s.VerifyEmail(context.Background(), "a@x.com", "wrong")
	if e, ok := apierror.As(err); !ok || e.Message != "invalid token" {
		t.Fatalf("expected normalized error, got %v", err)
	}

	if _, err := s.VerifyEmail(context.Background(), "a@x.com", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty token, got %v", err)
	}
}

func TestResendVerificationFallsBack(t *testing.T) {
	var mu sync.Mutex
	var shapes []string
	b := newBackend(t, map[string]http.HandlerFunc{
		"/resend-verification": func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			shapes = append(shapes, r.Header.Get("Content-Type")+" "+string(body))
			n := len(shapes)
			mu.Unlock()
			switch n {
			case 1:
				w.WriteHeader(http.StatusUnsupportedMediaType)
			case 2:
				w.WriteHeader(http.StatusBadRequest)
			default:
				_, _ = io.WriteString(w, `{"result":"queued"}`)
			}
		},
	})
	s := newTestSession(t, b)

	msg, err := s.ResendVerification(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != "queued" {
		t.Fatalf("unexpected message %q", msg)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		`application/json "a@x.com"`,
		"text/plain a@x.com",
		`application/json {"email":"a@x.com"}`,
	}
	if len(shapes) != len(want) {
		t.Fatalf("expected %d attempts, got %v", len(want), shapes)
	}
	for i := range want {
		if shapes[i] != want[i] {
			t.Errorf("attempt %d: expected %q, got %q", i+1, want[i], shapes[i])
		}
	}
}

func TestResendVerificationStopsOnOtherErrors(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"/resend-verification": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		},
	})
	s := newTestSession(t, b)

	_, err := s.ResendVerification(context.Background(), "a@x.com")
	if e, ok := apierror.As(err); !ok || e.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 error, got %v", err)
	}
	if b.count("/resend-verification") != 1 {
		t.Fatalf("expected a single attempt, got %d", b.count("/resend-verification"))
	}
}

func TestGoogleLogin(t *testing.T) {
	var got map[string]string
	b := newBackend(t, map[string]http.HandlerFunc{
		"/google": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			tokenHandler("gtok", "")(w, r)
		},
	})
	s := newTestSession(t, b)

	if _, err := s.GoogleLogin(context.Background(), "", false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.GoogleLogin(context.Background(), "id-token", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["idToken"] != "id-token" {
		t.Fatalf("unexpected payload %v", got)
	}
	if tok, _ := s.CurrentCredential(); tok != "gtok" {
		t.Fatalf("expected gtok, got %q", tok)
	}
}
