package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "kanban-api/api"
	requestEventName   = "kanban.api.request"
	requestEventDomain = "kanban.api"
	observabilityEvent = "observability.event"
	metricsContextKey  = "kanban.request.metrics"
	attrPrefix         = "kanban.request."
)

// requestMetrics collects timings for one request and reports them as a span
// plus a structured log entry.
type requestMetrics struct {
	logger       *log.Logger
	span         trace.Span
	start        time.Time
	method       string
	route        string
	userID       string
	authDuration time.Duration
	errorStage   string
	err          error
	idempotent   string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		method: method,
		route:  route,
	}, spanCtx
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *requestMetrics) SetUser(userID string) { m.userID = userID }

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" || m.errorStage != "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) SetError(err error) { m.err = err }

// SetIdempotency records how an Idempotency-Key was handled: stored, replayed
// or in_flight.
func (m *requestMetrics) SetIdempotency(outcome string) { m.idempotent = outcome }

// Log ends the span and writes the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.err
	}
	total := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
		attribute.String("http.method", m.method),
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.Float64(attrPrefix+"total_ms", total),
	}
	fields := map[string]any{
		"http.method":      m.method,
		"http.route":       m.route,
		"http.status_code": status,
	}
	fields[attrPrefix+"total_ms"] = total
	if m.authDuration > 0 {
		ms := durationToMillis(m.authDuration)
		attrs = append(attrs, attribute.Float64(attrPrefix+"auth_ms", ms))
		fields[attrPrefix+"auth_ms"] = ms
	}
	if m.userID != "" {
		attrs = append(attrs, attribute.String("enduser.id", m.userID))
		fields["enduser.id"] = m.userID
	}
	if m.idempotent != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"idempotency", m.idempotent))
		fields[attrPrefix+"idempotency"] = m.idempotent
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"error_stage", m.errorStage))
		fields[attrPrefix+"error_stage"] = m.errorStage
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
		fields["error.message"] = err.Error()
	}

	m.span.SetAttributes(attribute.Int("http.status_code", status))
	if m.errorStage != "" {
		m.span.SetAttributes(attribute.String(attrPrefix+"error_stage", m.errorStage))
	}
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(attrs...))
	if status >= http.StatusInternalServerError || (status == 0 && err != nil) {
		desc := http.StatusText(status)
		if err != nil {
			desc = err.Error()
			m.span.RecordError(err)
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	sc := m.span.SpanContext()
	m.span.End()

	if m.logger == nil {
		return
	}
	entry := m.logger.WithFields(log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      fields,
	})
	if sc.HasTraceID() {
		entry = entry.WithField("trace_id", sc.TraceID().String())
	}
	if sc.HasSpanID() {
		entry = entry.WithField("span_id", sc.SpanID().String())
	}
	switch severityText {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus follows the OpenTelemetry log severity numbers.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status == 0 && err != nil:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// RequestMetrics wraps every request in a span and reports one observability
// event when it completes.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			m, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, route)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(metricsContextKey, m)

			err := next(c)
			if err != nil {
				// Let echo render the error first so the logged status is final.
				c.Error(err)
			}
			m.Log(c.Response().Status, err)
			return nil
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}
