package runtime

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/devicerelay/internal/runtime/ids"
	loggingpkg "github.com/drblury/devicerelay/internal/runtime/logging"
	metadatapkg "github.com/drblury/devicerelay/internal/runtime/metadata"
)

const tracerName = "github.com/drblury/devicerelay"

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard middleware chain used by the Service
// constructor, outermost first. Relay events are never redelivered, so the
// chain has no retry or poison queue stage.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		NonFatalMiddleware(),
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// NonFatalMiddleware logs handler errors and acks the message anyway.
func NonFatalMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "non_fatal",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.Logger == nil {
				return nil, errors.New("non fatal middleware requires a logger")
			}
			return s.nonFatalMiddleware(), nil
		},
	}
}

// MetricsMiddleware adds Watermill's Prometheus router metrics. Collectors are
// registered on the Service registry, not the global one.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				s.promRegistry,
				"devicerelay",
				"bus",
			)

			// Adds the publisher/subscriber decorators and the router middleware.
			metricsBuilder.AddPrometheusRouterMetrics(s.router)
			return nil, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.correlationIDMiddleware(), nil
		},
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages at debug.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return s.logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry consumer span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.tracerMiddleware(), nil
		},
	}
}

// RecovererMiddleware converts panics into handler errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errRouterNotInitialised
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

// nonFatalMiddleware swallows handler errors so the bus acks the message.
// A failed relay event is never worth redelivering.
func (s *Service) nonFatalMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := h(msg)
			if err != nil {
				md := metadatapkg.FromWatermill(msg.Metadata)
				s.Logger.Error("Dropping event after dispatch error", err, loggingpkg.LogFields{
					"message_uuid":   msg.UUID,
					"event":          md.Event(),
					"session_id":     md.SessionID(),
					"correlation_id": md.CorrelationID(),
				})
			}
			return msgs, nil
		}
	}
}

// correlationIDMiddleware injects a correlation ID into the message metadata when missing.
func (s *Service) correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
				msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.CreateULID())
			}
			return h(msg)
		}
	}
}

// logMessagesMiddleware logs all processed messages with their metadata.
func (s *Service) logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

// tracerMiddleware wraps message handling with an OpenTelemetry span.
func (s *Service) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			md := metadatapkg.FromWatermill(msg.Metadata)
			ctx, span := otel.Tracer(tracerName).Start(
				msg.Context(),
				"relay.dispatch "+md.Event(),
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.message.id", msg.UUID),
					attribute.String("messaging.destination.name", InboundTopic),
					attribute.String("relay.event", md.Event()),
					attribute.String("relay.session_id", md.SessionID()),
					attribute.String("relay.correlation_id", md.CorrelationID()),
				),
			)
			defer span.End()
			msg.SetContext(ctx)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}
