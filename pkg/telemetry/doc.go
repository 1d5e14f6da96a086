// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry-based observability for Kodiak.
//
// This package initializes the OTel SDK with defaults suited to a local
// CLI: tracing is off unless explicitly enabled, and metrics are exposed
// through a Prometheus handler that the diagnostics server mounts at
// /metrics. OTel APIs are used directly; backends are swapped through
// exporter configuration, not code.
//
// # Trace Backend
//
// Disabled by default. A CLI must start instantly and work offline, so no
// collector connection is attempted unless OTEL_TRACES_EXPORTER selects
// one. Set it to "otlp" to ship spans to a local Jaeger or any
// OTLP-compatible collector, or "stdout" for debugging.
//
// # Metrics Backend
//
// Prometheus by default. The exporter registers with the default
// Prometheus registry and MetricsHandler returns the scrape handler.
// Nothing listens until the diagnostics server is started.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	shutdown, err := telemetry.Init(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(ctx)
//
//	tracer := otel.Tracer("kodiak")
//	meter := otel.Meter("kodiak")
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - KODIAK_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init() returns.
package telemetry
