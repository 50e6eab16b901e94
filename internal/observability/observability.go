// Package observability installs the process-wide logger and trace propagator.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ScopeName identifies log records emitted through the OpenTelemetry bridge.
const ScopeName = "github.com/florianilch/vbsession"

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatOTel = "otel"
)

// OTLP protocols.
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// Options configures Instrument.
type Options struct {
	Level  slog.Level
	Format string
	// OTLPEndpoint exports otel logs over OTLP instead of writing them to
	// Writer.
	OTLPEndpoint string
	OTLPProtocol string
	// Writer receives text, json and stdout otel output. Defaults to stderr.
	Writer io.Writer
}

// Instrument sets the default slog logger and the global W3C trace-context
// propagator. The returned function flushes and stops any export pipeline.
func Instrument(ctx context.Context, opts Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	noop := func(context.Context) error { return nil }

	switch opts.Format {
	case "", FormatText:
		slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level})))
		return noop, nil
	case FormatJSON:
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level})))
		return noop, nil
	case FormatOTel:
		processor, err := newProcessor(ctx, opts, w)
		if err != nil {
			return nil, err
		}
		provider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(opts.Level))),
		)
		global.SetLoggerProvider(provider)
		slog.SetDefault(slog.New(otelslog.NewHandler(ScopeName, otelslog.WithLoggerProvider(provider))))
		return provider.Shutdown, nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", opts.Format)
	}
}

func newProcessor(ctx context.Context, opts Options, w io.Writer) (sdklog.Processor, error) {
	if opts.OTLPEndpoint == "" {
		exporter, err := stdoutlog.New(stdoutlog.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("creating stdout log exporter: %w", err)
		}
		return sdklog.NewSimpleProcessor(exporter), nil
	}

	switch opts.OTLPProtocol {
	case "", ProtocolHTTP:
		exporter, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(opts.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("creating otlp http log exporter: %w", err)
		}
		return sdklog.NewBatchProcessor(exporter), nil
	case ProtocolGRPC:
		exporter, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpointURL(opts.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("creating otlp grpc log exporter: %w", err)
		}
		return sdklog.NewBatchProcessor(exporter), nil
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", opts.OTLPProtocol)
	}
}

func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
