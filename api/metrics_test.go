package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// tracing installs an in-memory tracer provider for the duration of the test.
type tracing struct {
	tp       *sdktrace.TracerProvider
	exporter *tracetest.InMemoryExporter
}

func installTracing(t *testing.T) *tracing {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return &tracing{tp: tp, exporter: exporter}
}

// single flushes and returns the only recorded span.
func (tr *tracing) single(t *testing.T) tracetest.SpanStub {
	t.Helper()
	if err := tr.tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	spans := tr.exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("want one span, have %d", len(spans))
	}
	return spans[0]
}

func attrMap(kvs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func eventAttrs(t *testing.T, span tracetest.SpanStub) map[string]any {
	t.Helper()
	for _, ev := range span.Events {
		if ev.Name == observabilityEvent {
			return attrMap(ev.Attributes)
		}
	}
	t.Fatalf("span %q has no %s event: %#v", span.Name, observabilityEvent, span.Events)
	return nil
}

func expectAttrs(t *testing.T, where string, got map[string]any, want map[string]any) {
	t.Helper()
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s[%s] = %#v, want %#v", where, k, got[k], v)
		}
	}
}

func TestRequestMetricsSuccessEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})
	tr := installTracing(t)

	m, _ := newRequestMetrics(context.Background(), logger, http.MethodGet, "/api/boards")
	m.start = m.start.Add(-40 * time.Millisecond)
	m.ObserveAuth(10 * time.Millisecond)
	m.ObserveAuth(0)
	m.SetUser("user-1")
	m.SetIdempotency("stored")
	m.Log(http.StatusOK, nil)

	entry := hook.LastEntry()
	if entry == nil || entry.Message != observabilityEvent || entry.Level != log.InfoLevel {
		t.Fatalf("missing info observability entry: %#v", entry)
	}
	expectAttrs(t, "entry", entry.Data, map[string]any{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   "INFO",
		"severity_number": 9,
	})
	if id, _ := entry.Data["trace_id"].(string); len(id) != 32 {
		t.Fatalf("trace_id not recorded: %#v", entry.Data["trace_id"])
	}

	fields, ok := entry.Data["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes field has type %T", entry.Data["attributes"])
	}
	expectAttrs(t, "attributes", fields, map[string]any{
		"http.route":                 "/api/boards",
		"http.method":                http.MethodGet,
		"enduser.id":                 "user-1",
		"kanban.request.auth_ms":     10.0,
		"kanban.request.idempotency": "stored",
	})
	if total, _ := fields["kanban.request.total_ms"].(float64); total < 40 {
		t.Fatalf("total_ms = %v, want at least 40", fields["kanban.request.total_ms"])
	}

	span := tr.single(t)
	if span.Name != "GET /api/boards" || span.Status.Code != codes.Ok {
		t.Fatalf("unexpected span %q status %v", span.Name, span.Status.Code)
	}
	expectAttrs(t, "span", attrMap(span.Attributes), map[string]any{
		"http.route":       "/api/boards",
		"http.status_code": int64(http.StatusOK),
	})
	expectAttrs(t, "event", eventAttrs(t, span), map[string]any{
		"event.name":    requestEventName,
		"severity_text": "INFO",
	})
}

func TestRequestMetricsServerErrorMarksSpan(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tr := installTracing(t)

	m, _ := newRequestMetrics(context.Background(), logger, http.MethodPost, "/api/cards")
	m.SetErrorStage("service")
	m.SetErrorStage("request")
	cause := errors.New("database is locked")
	m.Log(http.StatusInternalServerError, cause)

	span := tr.single(t)
	if span.Status.Code != codes.Error || span.Status.Description != cause.Error() {
		t.Fatalf("span status = %v %q", span.Status.Code, span.Status.Description)
	}
	expectAttrs(t, "event", eventAttrs(t, span), map[string]any{
		"severity_text":              "ERROR",
		"severity_number":            int64(17),
		"kanban.request.error_stage": "service",
		"error.message":              cause.Error(),
	})
	if entry := hook.LastEntry(); entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("want error-level entry, got %#v", entry)
	}
}

func TestRequestMetricsMiddlewareNamesSpanByRoute(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tr := installTracing(t)

	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler(logger)
	e.Use(RequestMetrics(logger))
	var sawMetrics bool
	e.GET("/api/boards/:id", func(c echo.Context) error {
		sawMetrics = metricsFrom(c) != nil
		return c.JSON(http.StatusNotFound, errorResponse{Error: "Board not found"})
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/boards/abc", nil))

	if rec.Code != http.StatusNotFound || !sawMetrics {
		t.Fatalf("status %d, metrics in context: %v", rec.Code, sawMetrics)
	}
	if span := tr.single(t); span.Name != "GET /api/boards/:id" {
		t.Fatalf("span named %q", span.Name)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Data["severity_text"] != "WARN" {
		t.Fatalf("want WARN entry, got %#v", entry)
	}
}

func TestRequestMetricsMiddlewareRendersReturnedErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	installTracing(t)

	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler(logger)
	e.Use(RequestMetrics(logger))
	e.GET("/boom", func(echo.Context) error { return errors.New("kaput") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), `"error":"Server error"`) {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	var logged, event bool
	for _, entry := range hook.AllEntries() {
		switch entry.Message {
		case "request failed":
			logged = entry.Data[log.ErrorKey] != nil
		case observabilityEvent:
			event = entry.Data["severity_number"] == 17
		}
	}
	if !logged || !event {
		t.Fatalf("cause logged: %v, error event: %v", logged, event)
	}
}

func TestSeverityForStatus(t *testing.T) {
	cases := map[string]struct {
		status int
		err    error
		text   string
		number int
	}{
		"ok":           {status: http.StatusOK, text: "INFO", number: 9},
		"created":      {status: http.StatusCreated, text: "INFO", number: 9},
		"badRequest":   {status: http.StatusBadRequest, text: "WARN", number: 13},
		"unauthorized": {status: http.StatusUnauthorized, text: "WARN", number: 13},
		"server":       {status: http.StatusServiceUnavailable, text: "ERROR", number: 17},
		"noStatus":     {err: errors.New("x"), text: "ERROR", number: 17},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			text, number := severityForStatus(c.status, c.err)
			if text != c.text || number != c.number {
				t.Fatalf("severityForStatus(%d, %v) = %s/%d, want %s/%d", c.status, c.err, text, number, c.text, c.number)
			}
		})
	}
}
