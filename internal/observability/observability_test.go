package observability

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
)

func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestInstrumentFormats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{format: FormatText, want: "msg=hello"},
		{format: "", want: "msg=hello"},
		{format: FormatJSON, want: `"msg":"hello"`},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			restoreDefaultLogger(t)
			var buf bytes.Buffer

			shutdown, err := Instrument(context.Background(), Options{Level: slog.LevelInfo, Format: tt.format, Writer: &buf})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			slog.Debug("hidden")
			slog.Info("hello")
			if err := shutdown(context.Background()); err != nil {
				t.Fatal(err)
			}

			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Fatalf("expected %q in %q", tt.want, out)
			}
			if strings.Contains(out, "hidden") {
				t.Fatal("debug record should be filtered")
			}
		})
	}
}

func TestInstrumentOTel(t *testing.T) {
	restoreDefaultLogger(t)
	var buf bytes.Buffer

	shutdown, err := Instrument(context.Background(), Options{Level: slog.LevelWarn, Format: FormatOTel, Writer: &buf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	slog.Info("quiet")
	slog.Warn("loud")
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "loud") {
		t.Fatalf("expected warn record in %q", out)
	}
	if strings.Contains(out, "quiet") {
		t.Fatal("info record should be filtered")
	}
}

func TestInstrumentRejectsUnknownFormat(t *testing.T) {
	restoreDefaultLogger(t)
	if _, err := Instrument(context.Background(), Options{Format: "xml"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Instrument(context.Background(), Options{Format: FormatOTel, OTLPEndpoint: "http://collector:4318", OTLPProtocol: "udp"}); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

func TestInstrumentInstallsPropagator(t *testing.T) {
	restoreDefaultLogger(t)
	if _, err := Instrument(context.Background(), Options{Writer: &bytes.Buffer{}}); err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(otel.GetTextMapPropagator().Fields(), "traceparent") {
		t.Fatalf("expected trace context propagator, got %v", otel.GetTextMapPropagator().Fields())
	}
}

func TestSeverity(t *testing.T) {
	tests := map[slog.Level]minsev.Severity{
		slog.LevelDebug - 4: minsev.SeverityDebug,
		slog.LevelDebug:     minsev.SeverityDebug,
		slog.LevelInfo:      minsev.SeverityInfo,
		slog.LevelWarn:      minsev.SeverityWarn,
		slog.LevelError:     minsev.SeverityError,
	}
	for level, want := range tests {
		if got := severity(level); got != want {
			t.Errorf("severity(%v) = %v, want %v", level, got, want)
		}
	}
}
