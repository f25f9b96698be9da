// Package telemetry wraps OpenTelemetry SDK initialization, providing
// the TracerProvider behind the dialog engine's spans. When telemetry
// is disabled the global noop provider stays in place and nothing
// connects to external services.
package telemetry
