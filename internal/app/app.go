package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/florianilch/vbsession/internal/metrics"
	"github.com/florianilch/vbsession/internal/proxy"
	"github.com/florianilch/vbsession/internal/session"
)

// App orchestrates the session probe and the sidecar server.
type App struct {
	cfg     *Config
	session *session.Session
	proxy   *proxy.Proxy
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var proxyOpts []proxy.Option
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		var err error
		m, err = metrics.New(reg)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		proxyOpts = append(proxyOpts, proxy.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	sess, err := NewSession(cfg, m)
	if err != nil {
		return nil, err
	}

	proxyOpts = append(proxyOpts, proxy.WithReadyTimeout(cfg.Backend.ReadyTimeout))
	proxyServer, err := proxy.New(sess, proxyOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:     cfg,
		session: sess,
		proxy:   proxyServer,
	}, nil
}

// NewSession creates a session from application configuration. No network
// call is made until the session is started. m may be nil.
func NewSession(cfg *Config, m *metrics.Metrics) (*session.Session, error) {
	store, err := cfg.Remember.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create remember store: %w", err)
	}

	opts := []session.Option{session.WithMetrics(m)}
	if store != nil {
		opts = append(opts, session.WithRememberStore(store))
	}

	sess, err := session.New(session.Config{
		BaseURL:       cfg.Backend.BaseURL,
		Timeout:       cfg.Backend.Timeout,
		LogoutTimeout: cfg.Backend.LogoutTimeout,
		RememberDays:  cfg.Remember.Days,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// Session returns the application's session.
func (a *App) Session() *session.Session {
	return a.session
}

// Start starts all services and blocks until shutdown is triggered.
// The sidecar accepts calls before the session probe finished; those calls
// wait for readiness with a bound.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Address()
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting sidecar", "address", address, "backend", a.cfg.Backend.BaseURL)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	g.Go(func() error {
		state := a.session.Start(gCtx)
		slog.InfoContext(gCtx, "session ready", "state", state)
		return nil
	})

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
