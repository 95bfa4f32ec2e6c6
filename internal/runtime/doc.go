/*
Package runtime hosts the endpoints of a phaseflow service and binds their
traversals to a Watermill transport.

# Architecture Overview

Every delivery the router receives is turned into a message bound to a fresh
exchange and handed to the inbound traversal of its endpoint. A server's
invoke unit runs the handler and, when a reply was produced, starts the
outbound traversal that sends it. A client publishes its request from the send
phase, suspends, and is resumed when the correlated response arrives; the
response then runs through the client's inbound traversal before the Call
completes.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - Message router (Watermill)
  - Publisher and subscriber connections
  - The bus provider and the feature providers
  - Traversal template cache
  - HTTP servers for metrics and the introspection API

## Endpoints (endpoint.go, units.go, observer.go)

RegisterEndpoint validates a registration, installs the transport units
(invoke, outgoing-chain, send, fault-marshal, fault-send, fault-check,
fault-capture) and subscribes the consume queue. ObserveNewMessage is the
transport entry point.

## Correlation (correlation.go, call.go)

Parked client exchanges wait in a correlation store keyed by correlation id.
Dispatch, Resume and Abort operate on it.

## Registration helpers (registration*.go)

Typed wrappers around RegisterEndpoint:
  - registration.go: plain unit handlers
  - registration_json.go: typed JSON handlers
  - registration_proto.go: typed Protocol Buffer handlers

## Features (features.go)

Features contribute units to every endpoint:
  - CorrelationFeature: correlation ids on every message
  - LoggingFeature: debug logging of payloads and faults
  - TracingFeature: OpenTelemetry spans per traversal
  - ProtoValidateFeature: schema validation for protobuf payloads

## Stats & Monitoring (stats.go, metrics.go, hooks.go, webui.go)

Per-endpoint statistics, Prometheus collectors, ready-made lifecycle hooks and
the HTTP API for introspecting assembled traversals.

# Sub-packages

  - chain/: Assembly, templates and the traversal engine
  - config/: Service configuration with validation
  - errors/: Sentinel errors and error types
  - exchange/: Messages, exchanges and faults
  - handlers/: Message context types and handler building
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Message metadata utilities
  - phase/: Phase registries
  - unit/: Units and providers

# Usage Example

	cfg := &phaseflow.Config{
		PubSubSystem:   "kafka",
		KafkaBrokers:   []string{"localhost:9092"},
		MetricsEnabled: true,
		MetricsPort:    9090,
	}

	svc := phaseflow.NewService(cfg, logger, ctx, phaseflow.ServiceDependencies{})

	phaseflow.RegisterProtoEndpoint(svc, phaseflow.ProtoEndpointRegistration[*pb.OrderCreated]{
		EndpointOptions: phaseflow.EndpointOptions{
			Name:         "order-processor",
			ConsumeQueue: "orders.created",
			PublishQueue: "orders.processed",
		},
		Handler: processOrder,
	})

	svc.Start(ctx)
*/
package runtime
