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
	tracerName        = "taskboard/task-api"
	tasksSpanName     = "taskboard.tasks.request"
	tasksEventName    = "tasks.request.metrics"
	tasksEventDomain  = "taskboard.api"
	observabilityMsg  = "observability.event"
	metricsContextKey = "taskboard.request_metrics"
	attrPrefix        = "taskboard.tasks."
)

type taskRequestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	route         string
	method        string
	authDuration  time.Duration
	storeDuration time.Duration
	tasksReturned int
	taskID        string
	errorStage    string
	err           error
}

func newTaskRequestMetrics(ctx context.Context, logger *log.Logger) (*taskRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, tasksSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &taskRequestMetrics{
		logger:        logger,
		span:          span,
		start:         time.Now(),
		route:         "/api/tasks",
		tasksReturned: -1,
	}, spanCtx
}

// requestMetrics opens a span per request and logs one observability event when it ends.
func requestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			metrics, spanCtx := newTaskRequestMetrics(c.Request().Context(), logger)
			c.SetRequest(c.Request().WithContext(spanCtx))
			metrics.SetRoute(c.Request().Method, c.Path())
			c.Set(metricsContextKey, metrics)
			defer func() {
				status := c.Response().Status
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
				logErr := err
				if logErr == nil {
					logErr = metrics.err
				}
				metrics.Log(status, logErr)
			}()
			return next(c)
		}
	}
}

func metricsFrom(c echo.Context) *taskRequestMetrics {
	m, _ := c.Get(metricsContextKey).(*taskRequestMetrics)
	return m
}

func (m *taskRequestMetrics) SetRoute(method, route string) {
	if m == nil {
		return
	}
	m.method = method
	if route != "" {
		m.route = route
	}
}

func (m *taskRequestMetrics) ObserveAuth(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *taskRequestMetrics) ObserveStore(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.storeDuration = duration
}

func (m *taskRequestMetrics) SetTasksReturned(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *taskRequestMetrics) SetTaskID(id string) {
	if m == nil {
		return
	}
	m.taskID = id
}

func (m *taskRequestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

// Fail records the stage and error of a handled failure.
func (m *taskRequestMetrics) Fail(stage string, err error) {
	if m == nil {
		return
	}
	m.SetErrorStage(stage)
	m.err = err
}

func (m *taskRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.Float64(attrPrefix+"total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.method != "" {
		attrs = append(attrs, attribute.String("http.method", m.method))
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"auth_ms", durationToMillis(m.authDuration)))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"store_ms", durationToMillis(m.storeDuration)))
	}
	if m.tasksReturned >= 0 {
		attrs = append(attrs, attribute.Int(attrPrefix+"tasks_returned", m.tasksReturned))
	}
	if m.taskID != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"task_id", m.taskID))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	severityText, severityNumber := severityForStatus(status, err)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", tasksEventName),
		attribute.String("event.domain", tasksEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)

	var traceID, spanID string
	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(observabilityMsg, trace.WithAttributes(eventAttrs...))
		switch {
		case status >= http.StatusInternalServerError, err != nil && status < http.StatusBadRequest:
			desc := http.StatusText(status)
			if err != nil {
				m.span.RecordError(err)
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		if sc := m.span.SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
			spanID = sc.SpanID().String()
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      tasksEventName,
		"event.domain":    tasksEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesForLog(attrs),
	}
	if traceID != "" {
		fields["trace_id"] = traceID
		fields["span_id"] = spanID
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(observabilityMsg)
	case "WARN":
		entry.Warn(observabilityMsg)
	default:
		entry.Info(observabilityMsg)
	}
}

// severityForStatus follows the OpenTelemetry log severity numbers.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	}
	return "INFO", 9
}

func attributesForLog(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		switch kv.Value.Type() {
		case attribute.INT64:
			out[string(kv.Key)] = int(kv.Value.AsInt64())
		default:
			out[string(kv.Key)] = kv.Value.AsInterface()
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
