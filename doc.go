// Package devicerelay relays realtime events between devices connected over
// websockets. A device connects, is greeted with its session id and the
// current roster, registers a name, and from then on streams telemetry
// (screen, voice, location) that every connection receives, or sends remote
// commands (camera, screen capture, location) to one device or to all others.
//
// Inbound frames travel over a Watermill event bus before they are routed.
// The in-process "channel" bus serves a single instance; "nats" and
// "rabbitmq" fan events out to every relay instance sharing the broker, so
// devices connected to different processes still see each other.
//
// A minimal setup loads Config from the environment, creates a Service and
// calls Start:
//
//	conf, err := devicerelay.LoadConfig()
//	if err != nil {
//		return err
//	}
//	logger := devicerelay.NewSlogServiceLogger(devicerelay.NewSlogLogger(os.Stdout, conf.LogLevel, conf.LogFormat))
//	svc, err := devicerelay.TryNewService(conf, logger, ctx, devicerelay.ServiceDependencies{})
//	if err != nil {
//		return err
//	}
//	return svc.Start(ctx)
//
// # HTTP surface
//
// The main listener serves /ws and /socket (websocket), /api/status,
// /api/devices and /api/stats, /metrics (unless METRICS_PORT moves it) and
// static files from RELAY_STATIC_DIR.
//
// # Middleware
//
// The dispatch handler runs behind a default chain of non-fatal error
// handling, correlation ids, message logging, OpenTelemetry tracing,
// Prometheus router metrics and panic recovery. Custom middleware can be
// added via ServiceDependencies.Middlewares.
//
// # Dispatch hooks
//
// DispatchHooks provides OnDispatchStart, OnDispatchDone and OnDispatchError
// callbacks around every routed event. LoggingHooks, MetricsHooks and
// AlertingHooks cover the common cases and can be combined with Merge.
package devicerelay
