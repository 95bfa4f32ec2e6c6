// Package phaseflow is a phase-ordered interceptor chain engine on top of
// Watermill. Every message that enters or leaves an endpoint is carried
// through a traversal: an ordered list of units, each bound to a named phase,
// assembled from the providers that contribute to the endpoint (the service
// bus, enabled features, the endpoint itself and per-message extras).
//
// Units are sorted by phase and then by their before/after constraints. A
// unit may suspend its traversal, for example while waiting for a correlated
// response, and a continuation resumes it later at the same unit. When a unit
// faults, the executed units are unwound in reverse and the traversal is
// diverted to the fault sequence of the endpoint: servers serialize the fault
// back to the caller, clients record it for the pending Call.
//
// Service hosts the Watermill router and the transport. RegisterEndpoint,
// RegisterJSONEndpoint and RegisterProtoEndpoint bind handlers to queues;
// Service.Dispatch sends a request through a client endpoint and returns a
// Call that completes when the correlated response has run its own inbound
// traversal. A minimal setup fills Config, creates a Service, registers
// endpoints, and calls Start.
//
// # Transports
//
// The transport is selected by Config.PubSubSystem:
//   - channel: In-memory Go channels for testing
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - aws: AWS SNS/SQS with LocalStack support
//   - nats: NATS core or JetStream
//   - http: Request/response messaging
//
// Import github.com/drblury/phaseflow/transport/transports to register all of
// them, or a single transport package to keep the binary small.
//
// # Features
//
// Features contribute units to every endpoint. The defaults add correlation
// ids, message logging, OpenTelemetry spans, and protobuf validation. Extra
// features can be passed through ServiceDependencies.Features or per endpoint.
//
// # Hooks
//
// Hooks observe the lifecycle of each traversal (start, pause, resume, fault,
// finish). LoggingHooks, MetricsHooks and AlertingHooks cover the common
// cases; ChainMetrics exports the same events to Prometheus.
package phaseflow
