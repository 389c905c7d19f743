// Package otel publishes engine metrics through an OpenTelemetry Meter.
//
// Each counter becomes an Int64ObservableCounter and each latency histogram
// bucket an Int64ObservableGauge. One callback reads Engine.MetricsSnapshot
// per collection cycle. The caller owns the MeterProvider.
package otel
