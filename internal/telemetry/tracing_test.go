package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/aitastack/aita-fusion/internal/config"
)

func TestInitTracingDisabled(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{}, "test", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("expected global provider to be untouched")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected noop shutdown, got %v", err)
	}
}

func TestInitTracingInstallsProvider(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	cfg := config.TracingConfig{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4317",
		Insecure:    true,
		ServiceName: "aita-fusion-test",
		SampleRatio: 0.5,
	}
	shutdown, err := InitTracing(context.Background(), cfg, "test", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("expected sdk tracer provider, got %T", otel.GetTracerProvider())
	}
	Flush(context.Background(), shutdown, nil)
}
