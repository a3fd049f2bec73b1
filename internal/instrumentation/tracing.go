package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for inboxtriage.
const TracerName = "github.com/teemow/inboxtriage"

// Span attribute keys for operations.
const (
	// SpanAttrService is the remote service name attribute (gmail, anthropic, bedrock).
	SpanAttrService = "triage.service"

	// SpanAttrOperation is the operation type attribute.
	SpanAttrOperation = "triage.operation"

	// SpanAttrThread is the thread id.
	SpanAttrThread = "triage.thread_id"

	// SpanAttrMessage is the message id.
	SpanAttrMessage = "triage.message_id"

	// SpanAttrMessages is the number of messages an operation targets.
	SpanAttrMessages = "triage.message_count"

	// SpanAttrUpdate describes a label update, e.g. "workflow=drafted".
	SpanAttrUpdate = "triage.label_update"

	// SpanAttrOutcome is the operation outcome.
	SpanAttrOutcome = "triage.outcome"
)

// SpanAttributeBuilder helps construct OpenTelemetry span attributes
// with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 6),
	}
}

// WithThread adds the thread id attribute.
func (b *SpanAttributeBuilder) WithThread(id string) *SpanAttributeBuilder {
	if id != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrThread, id))
	}
	return b
}

// WithMessage adds the message id attribute.
func (b *SpanAttributeBuilder) WithMessage(id string) *SpanAttributeBuilder {
	if id != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrMessage, id))
	}
	return b
}

// WithMessageCount adds the target message count.
func (b *SpanAttributeBuilder) WithMessageCount(n int) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Int(SpanAttrMessages, n))
	return b
}

// WithUpdate adds the label update description.
func (b *SpanAttributeBuilder) WithUpdate(update string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrUpdate, update))
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartClientSpan starts a client span for a call to a remote service.
func StartClientSpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrService, service),
		attribute.String(SpanAttrOperation, operation),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, service+"."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan records err (if any) on the span, sets its status and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		SetSpanError(span, err)
	} else {
		SetSpanSuccess(span)
	}
	span.End()
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
