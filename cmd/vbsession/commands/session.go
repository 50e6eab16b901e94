package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/vbsession/internal/gateway"
	"github.com/florianilch/vbsession/internal/session"
)

var errMissingInput = errors.New("missing input")

// status is printed by probe, login and logout.
type status struct {
	State     session.State `json:"state"`
	Subject   string        `json:"subject,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "restore a remembered session and print the session state",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, shutdown, err := openSession(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer flush(shutdown)
			return printJSON(cmd, describe(sess))
		},
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "log in with email and password",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
			&cli.StringFlag{Name: "password", Usage: "account password (prompted when omitted)"},
			&cli.BoolFlag{Name: "remember", Usage: "keep the session across restarts"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			password, err := secret(cmd, "password", "Password: ")
			if err != nil {
				return err
			}
			sess, shutdown, err := openSession(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer flush(shutdown)

			_, err = sess.Login(ctx, session.LoginRequest{
				Email:    cmd.String("email"),
				Password: password,
				Remember: cmd.Bool("remember"),
			})
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			return printJSON(cmd, describe(sess))
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "end the session and forget any remembered login",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, shutdown, err := openSession(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer flush(shutdown)

			sess.Logout(ctx)
			return printJSON(cmd, describe(sess))
		},
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "create an account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "display name", Required: true},
			&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
			&cli.StringFlag{Name: "password", Usage: "account password (prompted when omitted)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			password, err := secret(cmd, "password", "Password: ")
			if err != nil {
				return err
			}
			sess, shutdown, err := openSession(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer flush(shutdown)

			confirmation, err := sess.Register(ctx, session.RegisterRequest{
				Name:     cmd.String("name"),
				Email:    cmd.String("email"),
				Password: password,
			})
			if err != nil {
				return fmt.Errorf("registration failed: %w", err)
			}
			return printJSON(cmd, confirmation)
		},
	}
}

func requestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "send an authenticated request through the gateway",
		ArgsUsage: "METHOD PATH",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "request body, @file reads a file"},
			&cli.StringSliceFlag{Name: "header", Aliases: []string{"H"}, Usage: "extra header as 'Name: value'"},
		},
		Action: requestAction,
	}
}

func requestAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 2 {
		return fmt.Errorf("%w: expected METHOD PATH", errMissingInput)
	}

	header, err := parseHeaders(cmd.StringSlice("header"))
	if err != nil {
		return err
	}
	body, err := readData(cmd.String("data"))
	if err != nil {
		return err
	}
	if len(body) > 0 && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}

	sess, shutdown, err := openSession(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer flush(shutdown)

	resp, err := sess.Do(ctx, gateway.Request{
		Method: strings.ToUpper(cmd.Args().Get(0)),
		Path:   cmd.Args().Get(1),
		Header: header,
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	w := cmd.Root().Writer
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("backend answered %s", resp.Status)
	}
	return nil
}

func describe(sess *session.Session) status {
	st := status{State: sess.State()}
	if claims, err := sess.Claims(); err == nil {
		st.Subject = claims.Subject
		if !claims.ExpiresAt.IsZero() {
			exp := claims.ExpiresAt
			st.ExpiresAt = &exp
		}
	}
	return st
}

// secret returns the flag value or prompts for it on an interactive stdin.
func secret(cmd *cli.Command, flag, prompt string) (string, error) {
	if v := cmd.String(flag); v != "" {
		return v, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: --%s", errMissingInput, flag)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", flag, err)
	}
	return string(b), nil
}

func parseHeaders(values []string) (http.Header, error) {
	header := make(http.Header)
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q", v)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return header, nil
}

func readData(data string) ([]byte, error) {
	path, ok := strings.CutPrefix(data, "@")
	if !ok {
		return []byte(data), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading data file: %w", err)
	}
	return b, nil
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
