/*
Package runtime hosts the relay Service.

# Architecture Overview

Every connection is owned by the websocket gateway of the process that
accepted it. Inbound frames are not routed in the connection goroutine:
the gateway publishes them on a Watermill bus topic and a single router
handler applies them in order. That handler is the only writer of the
session registry, so lifecycle transitions and roster broadcasts never race.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - the bus publisher and subscriber, built from Config by a transport factory
  - the Watermill router with the relay-dispatch handler
  - the registry, hub, relay router and lifecycle controller
  - HTTP listeners for the API, websocket endpoints, static files and metrics

## Dispatch (dispatch.go, hooks.go)

handleInbound turns a bus message back into a relay event, runs it through
the lifecycle controller and reports the deliveries to stats, metrics and
DispatchHooks.

## Middleware (middleware.go)

Default chain, outermost first:
  - NonFatal: logs dispatch errors and acks the message
  - CorrelationID: ensures message traceability
  - LogMessages: debug logging of message payloads
  - Tracer: OpenTelemetry consumer span
  - Metrics: Watermill Prometheus router metrics
  - Recoverer: panic recovery

## Gateway (gateway.go)

Websocket upgrade, per-connection read and write pumps, ping/pong keepalive.

## Stats & Monitoring (stats.go, relay_metrics.go, resources.go, status.go)

/api/status, /api/devices, /api/stats and /metrics.

# Sub-packages

  - config/: relay configuration, validation and environment loading
  - errors/: sentinel errors and error types
  - hub/: connection handles with bounded send queues
  - ids/: ULID session and message ids
  - jsoncodec/: JSON codec and raw object helpers
  - lifecycle/: per-session state machine
  - logging/: logger interface and adapters
  - metadata/: bus message metadata keys
  - registry/: registered sessions and the roster
  - relay/: event classes, envelopes, broadcast and unicast
  - transport/: bus factory over the transport registry

# Usage Example

	conf, err := config.Load()
	if err != nil {
		return err
	}
	svc := runtime.NewService(conf, logger, ctx, runtime.ServiceDependencies{})
	return svc.Start(ctx)
*/
package runtime
