// Package otel publishes deskauth engine metrics through an OpenTelemetry
// Meter: one observable counter per engine counter and one observable gauge
// per cumulative latency bucket. The caller supplies the Meter.
package otel
