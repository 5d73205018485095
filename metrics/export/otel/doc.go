// Package otel publishes tokenauth engine metrics through an OpenTelemetry
// Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter family,
// with the family label (outcome, event, scope or result) carried as an
// attribute. Validation latency is exported as cumulative bucket counts keyed
// by an le attribute. A single callback reads Engine.MetricsSnapshot on each
// collection cycle. The caller owns the MeterProvider.
package otel
