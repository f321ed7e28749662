// Package telemetry wires OpenTelemetry tracing and metrics export.
//
// Telemetry is disabled by default. When enabled, spans and metrics are
// exported over OTLP (gRPC or HTTP) to a collector:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sampling_rate: 1.0
//	  export_interval: 15s
//
// Export failures never stop the service. A provider that cannot be built
// leaves the instance degraded and the global no-op providers in place.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
