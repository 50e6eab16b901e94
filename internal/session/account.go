package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/florianilch/vbsession/internal/apierror"
	"github.com/florianilch/vbsession/internal/gateway"
)

// User is the profile returned by the identity probe.
type User struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
	// Raw is the full response body.
	Raw json.RawMessage `json:"-"`
}

// DisplayName returns the name, falling back to the email.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// ResetPasswordRequest completes a password reset from an emailed token.
type ResetPasswordRequest struct {
	Email           string `json:"email,omitempty" validate:"omitempty,email"`
	Token           string `json:"token" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

// ChangePasswordRequest changes the password of the signed-in account.
type ChangePasswordRequest struct {
	OldPassword     string `json:"oldPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,nefield=OldPassword"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Me returns the profile of the signed-in account. It goes through the
// gateway, so an expired credential is renewed once.
func (s *Session) Me(ctx context.Context) (*User, error) {
	resp, err := s.gateway.Do(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/me",
		Header: http.Header{"Accept": []string{"application/json"}},
	})
	if err != nil {
		return nil, apierror.FromTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apierror.FromResponse(resp)
	}

	body, err := readAll(resp)
	if err != nil {
		return nil, apierror.FromTransport(err)
	}

	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	u.Raw = json.RawMessage(body)
	return &u, nil
}

// ForgotPassword asks the server to email a reset link.
func (s *Session) ForgotPassword(ctx context.Context, email string) (string, error) {
	r := emailRequest{Email: email}
	if err := check(r); err != nil {
		return "", err
	}
	resp, err := s.post(ctx, "/forgot-password", r)
	return confirm(resp, err, "password reset email sent")
}

// ResetPassword sets a new password using an emailed reset token.
func (s *Session) ResetPassword(ctx context.Context, r ResetPasswordRequest) (string, error) {
	if err := check(r); err != nil {
		return "", err
	}
	resp, err := s.post(ctx, "/reset-password", r)
	return confirm(resp, err, "password has been reset")
}

// ChangePassword changes the password of the signed-in account through the
// gateway.
func (s *Session) ChangePassword(ctx context.Context, r ChangePasswordRequest) (string, error) {
	if err := check(r); err != nil {
		return "", err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}
	resp, err := s.gateway.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/change-password",
		Header: http.Header{
			"Accept":       []string{"application/json"},
			"Content-Type": []string{"application/json"},
		},
		Body: data,
	})
	if err != nil {
		err = apierror.FromTransport(err)
	}
	return confirm(resp, err, "password changed")
}

// VerifyEmail confirms an email address with the emailed token.
func (s *Session) VerifyEmail(ctx context.Context, email, token string) (string, error) {
	if err := check(emailRequest{Email: email}); err != nil {
		return "", err
	}
	if token == "" {
		return "", apierror.Invalid(map[string][]string{"token": {"token is required"}})
	}

	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	resp, err := s.send(ctx, http.MethodGet, "/verify?"+q.Encode(), "", nil)
	return confirm(resp, err, "email verified")
}

// ResendVerification asks the server to send the verification email again.
// Servers disagree on the request shape, so shapes are tried in turn while the
// server rejects the previous one as malformed.
func (s *Session) ResendVerification(ctx context.Context, email string) (string, error) {
	if err := check(emailRequest{Email: email}); err != nil {
		return "", err
	}

	quoted, _ := json.Marshal(email)
	object, _ := json.Marshal(emailRequest{Email: email})
	attempts := []func() (*http.Response, error){
		func() (*http.Response, error) {
			return s.send(ctx, http.MethodPost, "/resend-verification", "application/json", quoted)
		},
		func() (*http.Response, error) {
			return s.send(ctx, http.MethodPost, "/resend-verification", "text/plain", []byte(email))
		},
		func() (*http.Response, error) {
			return s.send(ctx, http.MethodPost, "/resend-verification", "application/json", object)
		},
		func() (*http.Response, error) {
			return s.send(ctx, http.MethodPost, "/resend-verification?email="+url.QueryEscape(email), "", nil)
		},
	}

	var (
		msg string
		err error
	)
	for i, attempt := range attempts {
		resp, sendErr := attempt()
		msg, err = confirm(resp, sendErr, "verification email sent")
		if err == nil || !rejectedShape(err) {
			break
		}
		slog.DebugContext(ctx, "resend verification shape rejected", "attempt", i+1, "error", err)
	}
	return msg, err
}

// confirm turns a direct call result into a confirmation message or a
// normalized error.
func confirm(resp *http.Response, err error, fallback string) (string, error) {
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apierror.FromResponse(resp)
	}
	body, err := readAll(resp)
	if err != nil {
		return "", apierror.FromTransport(err)
	}
	return apierror.SuccessMessage(body, fallback), nil
}

// rejectedShape reports statuses servers use to refuse a request body shape.
func rejectedShape(err error) bool {
	e, ok := apierror.As(err)
	if !ok {
		return false
	}
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
