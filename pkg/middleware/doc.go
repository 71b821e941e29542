// Package middleware provides dispatch middleware for syncline servers.
//
// # Prometheus Metrics
//
// The Prometheus middleware counts dispatches, errors, and emitted deltas,
// and times handler execution:
//
//	m := server.NewManager(schema, registry, nil,
//	    server.WithMiddleware(middleware.Prometheus()),
//	)
//
// pkg/server already exposes the collected metrics at /metrics.
//
// # OpenTelemetry Tracing
//
// The OpenTelemetry middleware opens a span per dispatched event, recording
// the handler path, session token, background flag, and delta count:
//
//	m := server.NewManager(schema, registry, nil,
//	    server.WithMiddleware(middleware.OpenTelemetry()),
//	)
//
// The tracer comes from the global provider; configure it in main() before
// starting the server.
package middleware
