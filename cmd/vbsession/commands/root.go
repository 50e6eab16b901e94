package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/vbsession/internal/app"
	"github.com/florianilch/vbsession/internal/observability"
	"github.com/florianilch/vbsession/internal/session"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "vbsession",
		Usage: "Session client and local sidecar for the VB authentication API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before reading the environment",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|otel)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "backend--base-url",
				Usage: "authentication API base URL",
				Value: app.DefaultConfigBackendBaseURL,
			},
		},
		Before: loadEnvFile,
		Commands: []*cli.Command{
			serveCommand(),
			probeCommand(),
			loginCommand(),
			logoutCommand(),
			registerCommand(),
			requestCommand(),
			accountCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// loadEnvFile exports the variables of --env-file into the process
// environment. Variables already set win.
func loadEnvFile(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("env-file")
	if path == "" {
		return ctx, nil
	}
	if err := godotenv.Load(path); err != nil {
		return ctx, fmt.Errorf("failed to load env file: %w", err)
	}
	return ctx, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the local sidecar",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "sidecar host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "sidecar port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.BoolFlag{
				Name:  "metrics--enabled",
				Usage: "expose prometheus metrics on /metrics",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flush(shutdown)

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

// setup loads the configuration and installs the logging pipeline.
func setup(ctx context.Context, cmd *cli.Command) (*app.Config, func(context.Context) error, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	shutdown, err := observability.Instrument(ctx, observability.Options{
		Level:        cfg.LogLevel,
		Format:       string(cfg.LogFormat),
		OTLPEndpoint: cfg.OTLP.Endpoint,
		OTLPProtocol: cfg.OTLP.Protocol,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}
	return cfg, shutdown, nil
}

// openSession creates a session. With probe set it runs the startup probe, so
// a remembered login is restored before the command acts.
func openSession(ctx context.Context, cmd *cli.Command, probe bool) (*session.Session, func(context.Context) error, error) {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	sess, err := app.NewSession(cfg, nil)
	if err != nil {
		flush(shutdown)
		return nil, nil, err
	}
	if probe {
		state := sess.Start(ctx)
		slog.DebugContext(ctx, "session ready", "state", state)
	}
	return sess, shutdown, nil
}

func flush(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), app.DefaultConfigShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "failed to flush logs:", err)
	}
}
