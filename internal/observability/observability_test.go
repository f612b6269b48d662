package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Info("should be suppressed")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Fatalf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("warn message missing: %s", out)
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})
	logger.Info("hello", "key", "value")

	if !strings.Contains(buf.String(), `"key":"value"`) {
		t.Fatalf("json output missing attribute: %s", buf.String())
	}
}

func TestMetricsNilReceiverSafe(t *testing.T) {
	var m *Metrics
	// None of these may panic.
	m.ObserveRequest("simple", "completed")
	m.ObserveStage("content", "ok", time.Second)
	m.ObserveReconnect()
	m.ObserveQueueDrop("heartbeat")
	m.ObserveRollback()
	m.RequestStarted()
	m.RequestFinished()
}

func TestMetricsRegisterOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	m.ObserveRequest("simple", "completed")
	m.ObserveFallbackSend()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool)
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	if !names["quill_pipeline_requests_total"] {
		t.Fatalf("requests counter not registered: %v", names)
	}
	if !names["quill_stream_fallback_sends_total"] {
		t.Fatalf("fallback counter not registered: %v", names)
	}
}

func TestTracerDisabledIsNoop(t *testing.T) {
	tp := NewTracerProvider(TracingConfig{Enabled: false})
	_, span := tp.StartRequestSpan(context.Background(), "req-1", "simple")
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTracerExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := NewTracerProvider(TracingConfig{Enabled: true}, exporter)

	ctx, reqSpan := tp.StartRequestSpan(context.Background(), "req-1", "moderate")
	_, groupSpan := tp.StartGroupSpan(ctx, 0, []string{"content", "formatting"})
	groupSpan.End()
	reqSpan.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("%d spans exported, want 2", len(spans))
	}
	if spans[0].Name != "pipeline.stage_group" || spans[1].Name != "pipeline.request" {
		t.Fatalf("span names: %s, %s", spans[0].Name, spans[1].Name)
	}
}
