// Package otel publishes engine metrics as OpenTelemetry observable
// instruments. The caller owns the MeterProvider; a single callback reads
// [identity.Engine.MetricsSnapshot] on every collection.
package otel
