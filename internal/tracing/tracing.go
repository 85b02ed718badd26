// Package tracing sets up OpenTelemetry tracing for the server. Finished
// spans are written to the zap logger.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// ServiceName identifies spans emitted by the server
const ServiceName = "apod-server"

// Setup returns the tracer used by the server and a shutdown func that
// flushes pending spans. With enabled false the tracer is a no-op.
func Setup(enabled bool, log *zap.SugaredLogger) (trace.Tracer, func(context.Context) error) {
	if !enabled {
		return noop.NewTracerProvider().Tracer(ServiceName), func(context.Context) error { return nil }
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewLogExporter(log)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
	)
	otel.SetTracerProvider(tp)

	return tp.Tracer(ServiceName), tp.Shutdown
}

// LogExporter is a span exporter that logs every finished span
type LogExporter struct {
	log *zap.SugaredLogger
}

// NewLogExporter creates a LogExporter
func NewLogExporter(log *zap.SugaredLogger) *LogExporter {
	return &LogExporter{log: log}
}

// ExportSpans logs spans at debug level, or warn level when they failed
func (e *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		fields := []any{
			"span", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"duration", s.EndTime().Sub(s.StartTime()),
		}
		for _, kv := range s.Attributes() {
			fields = append(fields, string(kv.Key), kv.Value.Emit())
		}

		if st := s.Status(); st.Description != "" {
			e.log.Warnw("span failed", append(fields, "error", st.Description)...)
			continue
		}
		e.log.Debugw("span", fields...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}
