package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRejectsUnknownProtocol(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Protocol: "carrier-pigeon"}, nil)
	if err == nil {
		t.Fatalf("expected error for unknown protocol")
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, span := Start(r.Context(), "test", "inner")
		End(span, errors.New("boom"))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/periods", nil))

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	server := spans[1]
	if server.Name() != "HTTP GET" {
		t.Fatalf("unexpected server span %q", server.Name())
	}
	if spans[0].Parent().SpanID() != server.SpanContext().SpanID() {
		t.Fatalf("inner span is not a child of the server span")
	}
	found := false
	for _, kv := range server.Attributes() {
		if string(kv.Key) == "http.status_code" && kv.Value.AsInt64() == http.StatusInternalServerError {
			found = true
		}
	}
	if !found {
		t.Fatalf("status attribute missing: %v", server.Attributes())
	}
}
