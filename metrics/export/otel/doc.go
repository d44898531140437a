// Package otel binds goCred counters to OpenTelemetry observable instruments.
//
// Counters that describe one concern share an instrument and differ by attribute, so
// rotations are one instrument with outcome=rotated|replay|failure and lock state changes
// are one instrument keyed by transition. The verify latency histogram is exported as
// cumulative gauges keyed by "le". A single callback reads
// [goCred.Engine.MetricsSnapshot] on each collection cycle. Callers own the MeterProvider.
package otel
