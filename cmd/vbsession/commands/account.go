package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/vbsession/internal/session"
)

// message is printed by account commands that only confirm.
type message struct {
	Message string `json:"message"`
}

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "account maintenance",
		Commands: []*cli.Command{
			{
				Name:  "me",
				Usage: "print the profile of the logged-in user",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					sess, shutdown, err := openSession(ctx, cmd, true)
					if err != nil {
						return err
					}
					defer flush(shutdown)

					user, err := sess.Me(ctx)
					if err != nil {
						return fmt.Errorf("loading profile: %w", err)
					}
					return printJSON(cmd, user.Raw)
				},
			},
			{
				Name:  "forgot",
				Usage: "email a password reset link",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
				},
				Action: confirmAction(false, func(ctx context.Context, cmd *cli.Command, sess *session.Session) (string, error) {
					return sess.ForgotPassword(ctx, cmd.String("email"))
				}),
			},
			{
				Name:  "reset",
				Usage: "set a new password from a reset token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "account email"},
					&cli.StringFlag{Name: "token", Usage: "reset token from the email", Required: true},
					&cli.StringFlag{Name: "new-password", Usage: "new password (prompted when omitted)"},
				},
				Action: confirmAction(false, func(ctx context.Context, cmd *cli.Command, sess *session.Session) (string, error) {
					password, err := secret(cmd, "new-password", "New password: ")
					if err != nil {
						return "", err
					}
					return sess.ResetPassword(ctx, session.ResetPasswordRequest{
						Email:           cmd.String("email"),
						Token:           cmd.String("token"),
						NewPassword:     password,
						ConfirmPassword: password,
					})
				}),
			},
			{
				Name:  "change",
				Usage: "change the password of the logged-in user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "old-password", Usage: "current password (prompted when omitted)"},
					&cli.StringFlag{Name: "new-password", Usage: "new password (prompted when omitted)"},
				},
				Action: confirmAction(true, func(ctx context.Context, cmd *cli.Command, sess *session.Session) (string, error) {
					oldPassword, err := secret(cmd, "old-password", "Current password: ")
					if err != nil {
						return "", err
					}
					newPassword, err := secret(cmd, "new-password", "New password: ")
					if err != nil {
						return "", err
					}
					return sess.ChangePassword(ctx, session.ChangePasswordRequest{
						OldPassword:     oldPassword,
						NewPassword:     newPassword,
						ConfirmPassword: newPassword,
					})
				}),
			},
			{
				Name:  "verify",
				Usage: "confirm an email address",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
					&cli.StringFlag{Name: "token", Usage: "verification token from the email", Required: true},
				},
				Action: confirmAction(false, func(ctx context.Context, cmd *cli.Command, sess *session.Session) (string, error) {
					return sess.VerifyEmail(ctx, cmd.String("email"), cmd.String("token"))
				}),
			},
			{
				Name:  "resend",
				Usage: "send the verification email again",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
				},
				Action: confirmAction(false, func(ctx context.Context, cmd *cli.Command, sess *session.Session) (string, error) {
					return sess.ResendVerification(ctx, cmd.String("email"))
				}),
			},
			{
				Name:  "google",
				Usage: "log in with a Google ID token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id-token", Usage: "Google ID token", Required: true},
					&cli.BoolFlag{Name: "remember", Usage: "keep the session across restarts"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					sess, shutdown, err := openSession(ctx, cmd, true)
					if err != nil {
						return err
					}
					defer flush(shutdown)

					if _, err := sess.GoogleLogin(ctx, cmd.String("id-token"), cmd.Bool("remember")); err != nil {
						return fmt.Errorf("google login failed: %w", err)
					}
					return printJSON(cmd, describe(sess))
				},
			},
		},
	}
}

// confirmAction runs fn against a session and prints the confirmation
// message. probe restores a remembered login first.
func confirmAction(probe bool, fn func(context.Context, *cli.Command, *session.Session) (string, error)) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		sess, shutdown, err := openSession(ctx, cmd, probe)
		if err != nil {
			return err
		}
		defer flush(shutdown)

		msg, err := fn(ctx, cmd, sess)
		if err != nil {
			return fmt.Errorf("%s failed: %w", cmd.Name, err)
		}
		return printJSON(cmd, message{Message: msg})
	}
}
