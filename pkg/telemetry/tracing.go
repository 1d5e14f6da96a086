// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span from the context using the global tracer.
//
// Description:
//
//	Convenience wrapper around otel.Tracer() so call sites never manage
//	tracer instances. Span names follow "Type.Method" or operation names.
//
// Inputs:
//
//	ctx - Parent context. May contain an existing span context.
//	tracerName - Tracer name (typically a package path, e.g., "kodiak.llm").
//	spanName - Span name (e.g., "OllamaClient.Complete").
//	opts - Optional span start options (attributes, links, etc.).
//
// Outputs:
//
//	context.Context - Context with the new span attached.
//	trace.Span - The created span. Caller must call span.End().
//
// Example:
//
//	func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
//	    ctx, span := telemetry.StartSpan(ctx, "kodiak.llm", "Client.Complete",
//	        trace.WithAttributes(attribute.String("model", req.Model)),
//	    )
//	    defer span.End()
//	    // ... issue the request
//	}
//
// Thread Safety: Safe for concurrent use.
func StartSpan(ctx context.Context, tracerName, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, opts...)
}

// SpanFromContext returns the current span from the context.
//
// Description:
//
//	Wrapper around trace.SpanFromContext. Returns a no-op span when the
//	context carries none, so callers never need a nil check.
//
// Inputs:
//
//	ctx - Context potentially containing a span.
//
// Outputs:
//
//	trace.Span - The current span, or a no-op span if none exists.
//
// Thread Safety: Safe for concurrent use.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// RecordError records an error on the span and sets its status to Error.
//
// Description:
//
//	Records the error as a span event, attaching any extra attributes,
//	then marks the span failed. No-op when span or err is nil.
//
// Inputs:
//
//	span - The span to record the error on. May be nil.
//	err - The error to record. May be nil.
//	attrs - Optional additional attributes to record with the error.
//
// Example:
//
//	resp, err := client.Complete(ctx, req)
//	if err != nil {
//	    telemetry.RecordError(span, err, attribute.String("model", req.Model))
//	    return nil, err
//	}
//
// Thread Safety: Safe for concurrent use.
func RecordError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}

	opts := make([]trace.EventOption, 0, 1)
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

// RecordErrorf records a formatted error message on the span.
//
// Description:
//
//	Builds an error from the format string and records it, setting the
//	span status to Error. Use when context should be added before the
//	error reaches the span.
//
// Inputs:
//
//	span - The span to record the error on. May be nil.
//	format - Printf-style format string.
//	args - Format arguments.
//
// Example:
//
//	if err := machine.Transition(name, target); err != nil {
//	    telemetry.RecordErrorf(span, "transition %s failed: %v", name, err)
//	    return err
//	}
//
// Thread Safety: Safe for concurrent use.
func RecordErrorf(span trace.Span, format string, args ...interface{}) {
	if span == nil {
		return
	}
	err := fmt.Errorf(format, args...)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful.
//
// Description:
//
//	Sets the span status to OK. Call after an operation completes to
//	distinguish success from the default Unset status.
//
// Inputs:
//
//	span - The span to mark as OK. May be nil.
//
// Thread Safety: Safe for concurrent use.
func SetSpanOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds a timestamped event to the span.
//
// Description:
//
//	Marks a significant point within a span's lifetime, such as a cache
//	miss or a fallback activation.
//
// Inputs:
//
//	span - The span to add the event to. May be nil.
//	name - Event name describing what happened.
//	attrs - Optional attributes to include with the event.
//
// Example:
//
//	telemetry.AddSpanEvent(span, "fallback_engaged", attribute.String("component", name))
//
// Thread Safety: Safe for concurrent use.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes sets attributes on the span.
//
// Description:
//
//	Adds or updates span attributes. Safe to call with a nil span.
//
// Inputs:
//
//	span - The span to set attributes on. May be nil.
//	attrs - Attributes to set.
//
// Example:
//
//	telemetry.SetSpanAttributes(span,
//	    attribute.Int("file_count", len(files)),
//	    attribute.String("root", root),
//	)
//
// Thread Safety: Safe for concurrent use.
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// TraceID returns the trace ID from the context as a string.
//
// Description:
//
//	Extracts the trace ID from the span context. Returns an empty
//	string when no valid span context is present.
//
// Inputs:
//
//	ctx - Context potentially containing a span.
//
// Outputs:
//
//	string - Hex-encoded trace ID, or empty string if unavailable.
//
// Thread Safety: Safe for concurrent use.
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// SpanID returns the span ID from the context as a string.
//
// Description:
//
//	Extracts the span ID from the span context. Returns an empty
//	string when no valid span context is present.
//
// Inputs:
//
//	ctx - Context potentially containing a span.
//
// Outputs:
//
//	string - Hex-encoded span ID, or empty string if unavailable.
//
// Thread Safety: Safe for concurrent use.
func SpanID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.SpanID().String()
}

// HasActiveSpan returns true if the context holds a valid, recording span.
//
// Description:
//
//	Useful for conditional instrumentation where attribute construction
//	is expensive.
//
// Inputs:
//
//	ctx - Context to check.
//
// Outputs:
//
//	bool - True if context has a valid, recording span.
//
// Thread Safety: Safe for concurrent use.
func HasActiveSpan(ctx context.Context) bool {
	span := trace.SpanFromContext(ctx)
	return span.SpanContext().IsValid() && span.IsRecording()
}

// LoggerWithTrace returns a logger annotated with the active trace.
//
// Description:
//
//	Adds trace_id and span_id fields to the logger when the context
//	carries a valid span, enabling log-to-trace correlation. Returns
//	the logger unchanged when no span is present. A nil logger falls
//	back to slog.Default().
//
// Inputs:
//
//	ctx - Context potentially containing a span. May be nil.
//	logger - Logger to annotate. May be nil.
//
// Outputs:
//
//	*slog.Logger - Annotated logger, never nil.
//
// Example:
//
//	log := telemetry.LoggerWithTrace(ctx, logger)
//	log.Info("model loaded", slog.String("model", name))
//
// Thread Safety: Safe for concurrent use.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// LoggerWithComponent returns a trace-annotated logger tagged with a component.
//
// Description:
//
//	Combines LoggerWithTrace with a component field so every log line
//	from a component's lifecycle carries both correlation IDs and the
//	component name.
//
// Inputs:
//
//	ctx - Context potentially containing a span. May be nil.
//	logger - Logger to annotate. May be nil.
//	component - Component name (e.g., "intentAnalyzer").
//
// Outputs:
//
//	*slog.Logger - Annotated logger, never nil.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithComponent(ctx context.Context, logger *slog.Logger, component string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(slog.String("component", component))
}
