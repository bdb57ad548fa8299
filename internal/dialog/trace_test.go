package dialog

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/lugia19/GPT-Speaker/internal/observe"
	"github.com/lugia19/GPT-Speaker/internal/resolve"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

func TestHandle_SpansCarryRequestID(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ext := &fakeExtractor{lines: []types.DialogLine{
		{Character: "Alice", Text: "Hi"},
		{Character: "Bob", Text: "Hello"},
	}}
	h := New(ext, resolve.New(voiceCatalogue()), &recordingQueue{})

	ctx := observe.WithRequestID(context.Background(), "req-trace")
	if _, err := h.Handle(ctx, "text", aliceBob()); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	counts := map[string]int{}
	for _, s := range exp.GetSpans() {
		var id string
		for _, kv := range s.Attributes {
			if string(kv.Key) == observe.RequestIDKey {
				id = kv.Value.AsString()
			}
		}
		if id != "req-trace" {
			continue
		}
		counts[s.Name]++
	}
	if counts[observe.SpanHandle] != 1 || counts[observe.SpanResolve] != 2 {
		t.Errorf("spans with request id = %v, want 1 %s and 2 %s",
			counts, observe.SpanHandle, observe.SpanResolve)
	}
}
