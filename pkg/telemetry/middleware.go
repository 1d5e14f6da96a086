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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware creates Gin middleware that adds distributed tracing.
//
// Description:
//
//	Wraps each request in a span with standard HTTP semantic attributes.
//	Extracts trace context from incoming headers so external callers can
//	correlate diagnostics requests with their own traces. Sets span
//	status to Error for 5xx responses.
//
// Inputs:
//
//	tracerName - Name for the tracer (e.g., "kodiak.diag").
//
// Outputs:
//
//	gin.HandlerFunc - Middleware to register with router.Use().
//
// Example:
//
//	router := gin.New()
//	router.Use(telemetry.TracingMiddleware("kodiak.diag"))
//
// Thread Safety: Safe for concurrent use.
func TracingMiddleware(tracerName string) gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)

	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(
			c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", c.Request.URL.Path),
				attribute.String("http.host", c.Request.Host),
				attribute.String("http.user_agent", c.Request.UserAgent()),
				attribute.String("net.peer.ip", c.ClientIP()),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))

		switch {
		case status >= 500:
			span.SetStatus(codes.Error, http.StatusText(status))
		case status >= 400:
			span.SetStatus(codes.Unset, "")
		default:
			span.SetStatus(codes.Ok, "")
		}
	}
}

// MetricsMiddleware creates Gin middleware that records request metrics.
//
// Description:
//
//	Records request count, duration, and active request count with
//	method, path, and status labels.
//
// Inputs:
//
//	metrics - Pre-configured Metrics instance.
//
// Outputs:
//
//	gin.HandlerFunc - Middleware to register with router.Use().
//
// Example:
//
//	metrics, _ := telemetry.NewMetrics(otel.Meter("kodiak"))
//	router := gin.New()
//	router.Use(telemetry.MetricsMiddleware(metrics))
//
// Thread Safety: Safe for concurrent use.
func MetricsMiddleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		metrics.HTTPActiveRequests.Add(ctx, 1)
		defer metrics.HTTPActiveRequests.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", route),
			attribute.Int("status", c.Writer.Status()),
		)

		metrics.HTTPRequestsTotal.Add(ctx, 1, attrs)
		metrics.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

// CombinedMiddleware returns tracing and metrics middleware together.
//
// Description:
//
//	Convenience for registering both with a single router.Use() call.
//	Tracing runs first so metrics record inside the span.
//
// Inputs:
//
//	tracerName - Name for the tracer.
//	metrics - Pre-configured Metrics instance.
//
// Outputs:
//
//	[]gin.HandlerFunc - Middleware in registration order.
//
// Example:
//
//	router.Use(telemetry.CombinedMiddleware("kodiak.diag", metrics)...)
//
// Thread Safety: Safe for concurrent use.
func CombinedMiddleware(tracerName string, metrics *Metrics) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		TracingMiddleware(tracerName),
		MetricsMiddleware(metrics),
	}
}
