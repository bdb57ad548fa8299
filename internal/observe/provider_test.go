package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProvider_ServesPipelineMetrics(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	ctx := context.Background()
	tel.Metrics.RecordDialogRequest(ctx, "success")
	tel.Metrics.RecordResolution(ctx, "fetched")

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`gptspeaker_dialog_requests_total{`,
		`status="success"`,
		`gptspeaker_resolve_total`,
		`go_goroutines`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	// Spans started after init are sampled.
	_, span := StartSpan(ctx, SpanHandle)
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Error("span not sampled with default ratio")
	}
}

func TestInitProvider_RejectsSampleRatio(t *testing.T) {
	t.Parallel()
	if _, err := InitProvider(context.Background(), ProviderConfig{TraceSampleRatio: 1.5}); err == nil {
		t.Fatal("expected error for ratio above 1")
	}
}
