package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	movesRoute       = "/api/cards/move"
	movesSpanName    = "crm.cards.move"
	movesEventName   = "crm.cards.move.completed"
	movesEventDomain = "crm"
	tracerName       = "crm-api"
)

// moveRequestMetrics collects timings and outcome facts for one card-move
// request and emits them as a span plus a structured observability event.
type moveRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	start          time.Time
	authDuration   time.Duration
	moveDuration   time.Duration
	encodeDuration time.Duration
	requestedIndex int
	destColumn     string
	errorStage     string
}

// newMoveRequestMetrics starts the request span. The returned context
// carries the span and must replace the request context for downstream
// propagation.
func newMoveRequestMetrics(ctx context.Context, logger *log.Logger) (*moveRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, movesSpanName)
	return &moveRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *moveRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *moveRequestMetrics) ObserveMove(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.moveDuration = duration
}

func (m *moveRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

// SetRequestedIndex records the index exactly as the client sent it. The
// reorder engine clamps on its own; keeping the raw value makes stale
// negative indices visible in telemetry.
func (m *moveRequestMetrics) SetRequestedIndex(index int) {
	m.requestedIndex = index
}

func (m *moveRequestMetrics) SetDestColumn(id string) {
	m.destColumn = id
}

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finalizes the span and emits the observability event. Call exactly
// once per request.
func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", movesRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("crm.moves.total_ms", totalMs),
		attribute.Int("crm.moves.requested_index", m.requestedIndex),
	}
	if m.destColumn != "" {
		attrs = append(attrs, attribute.String("crm.moves.dest_column", m.destColumn))
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("crm.moves.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.moveDuration > 0 {
		attrs = append(attrs, attribute.Float64("crm.moves.move_ms", durationToMillis(m.moveDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("crm.moves.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("crm.moves.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", movesEventName),
			attribute.String("event.domain", movesEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil || status >= 500 {
			desc := "move request failed"
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      movesEventName,
		"event.domain":    movesEventDomain,
		"attributes":      attrMap,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	m.logger.WithFields(fields).Info("observability.event")
}

// severityForStatus maps an HTTP status and error onto OTel log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= 500:
		return "ERROR", 17
	case status >= 400:
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
