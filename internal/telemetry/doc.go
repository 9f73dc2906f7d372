// Package telemetry wraps OpenTelemetry SDK setup for traces and metrics.
// When telemetry is disabled the global providers stay noop and nothing
// connects out.
package telemetry
