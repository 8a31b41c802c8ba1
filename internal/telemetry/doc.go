// Package telemetry wraps OpenTelemetry SDK setup for the service. Init
// builds OTLP gRPC exporters and registers global tracer and meter
// providers; when telemetry is disabled everything stays noop and no
// external connection is made.
package telemetry
