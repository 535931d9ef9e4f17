// Package telemetry groups the operational observability helpers of the
// profile-card service.
//
// # Operational Metrics (telemetry/metrics)
//
// Counters and histograms for bulk apply jobs and their candidates, exposed
// in Prometheus format on the HTTP surface.
//
// # Tracing (platform/otel)
//
// Spans around candidate resolution and job runs, exported over OTLP when
// enabled by configuration.
package telemetry
