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
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ExtractContext extracts trace context from incoming HTTP headers.
//
// Description:
//
//	Uses the globally configured propagator to extract W3C TraceContext
//	and Baggage from headers. The returned context carries the extracted
//	trace information for child spans.
//
// Inputs:
//
//	ctx - Base context to extend with trace information.
//	headers - Headers containing trace context (traceparent, tracestate).
//
// Outputs:
//
//	context.Context - Context with trace information attached, or the
//	                  original context if no trace headers are present.
//
// Thread Safety: Safe for concurrent use.
func ExtractContext(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// InjectContext injects trace context into outgoing HTTP headers.
//
// Description:
//
//	Uses the globally configured propagator to inject W3C TraceContext
//	and Baggage into headers on outgoing requests, so a local model
//	server or proxy can continue the trace.
//
// Inputs:
//
//	ctx - Context containing active span information.
//	headers - Headers to inject trace context into.
//
// Thread Safety: Safe for concurrent use.
func InjectContext(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// PropagateToRequest injects trace context into an outgoing HTTP request.
//
// Description:
//
//	Convenience wrapper that injects trace headers and binds the context
//	to the request in one call.
//
// Inputs:
//
//	ctx - Context containing active span information.
//	req - HTTP request to inject trace context into.
//
// Outputs:
//
//	*http.Request - Request with context and trace headers updated.
//
// Example:
//
//	req, _ := http.NewRequest("POST", url, body)
//	req = telemetry.PropagateToRequest(ctx, req)
//	resp, err := client.Do(req)
//
// Thread Safety: Safe for concurrent use.
func PropagateToRequest(ctx context.Context, req *http.Request) *http.Request {
	InjectContext(ctx, req.Header)
	return req.WithContext(ctx)
}
