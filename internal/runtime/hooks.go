package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/devicerelay/internal/runtime/logging"
	relaypkg "github.com/drblury/devicerelay/internal/runtime/relay"
)

// DispatchContext describes one event passing through the dispatch handler.
type DispatchContext struct {
	// Event is the inbound event name.
	Event string
	// Class is the relay class of Event.
	Class relaypkg.Class
	// SessionID is the connection the event arrived on.
	SessionID string
	// MessageUUID is the bus message id.
	MessageUUID string
	// CorrelationID follows the event through logs and spans.
	CorrelationID string
	// Context is the context associated with the message.
	Context context.Context
	// StartedAt is when dispatch began.
	StartedAt time.Time
	// Duration is how long dispatch took (only set in OnDispatchDone and OnDispatchError).
	Duration time.Duration
	// Deliveries lists what the router did (only set in OnDispatchDone).
	Deliveries []relaypkg.Delivery
}

// Recipients sums the recipients over all deliveries.
func (c DispatchContext) Recipients() int {
	n := 0
	for _, d := range c.Deliveries {
		n += d.Recipients
	}
	return n
}

// DispatchHooks defines callbacks around dispatch. Nil hooks are skipped.
// Hooks run on the dispatch path, so slow hooks delay every connection.
type DispatchHooks struct {
	OnDispatchStart func(ctx DispatchContext)
	OnDispatchDone  func(ctx DispatchContext)
	OnDispatchError func(ctx DispatchContext, err error)
}

// Merge combines two DispatchHooks. The hooks from other run after those of h.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: chainHooks(h.OnDispatchStart, other.OnDispatchStart),
		OnDispatchDone:  chainHooks(h.OnDispatchDone, other.OnDispatchDone),
		OnDispatchError: chainErrorHooks(h.OnDispatchError, other.OnDispatchError),
	}
}

func chainHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h DispatchHooks) start(ctx DispatchContext) {
	if h.OnDispatchStart != nil {
		h.OnDispatchStart(ctx)
	}
}

func (h DispatchHooks) done(ctx DispatchContext) {
	if h.OnDispatchDone != nil {
		h.OnDispatchDone(ctx)
	}
}

func (h DispatchHooks) fail(ctx DispatchContext, err error) {
	if h.OnDispatchError != nil {
		h.OnDispatchError(ctx, err)
	}
}

// LoggingHooks returns hooks that log every dispatch at debug and failures at error.
func LoggingHooks(logger loggingpkg.ServiceLogger) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: func(ctx DispatchContext) {
			logger.Debug("Dispatch started", loggingpkg.LogFields{
				"event":          ctx.Event,
				"session_id":     ctx.SessionID,
				"correlation_id": ctx.CorrelationID,
			})
		},
		OnDispatchDone: func(ctx DispatchContext) {
			logger.Debug("Dispatch completed", loggingpkg.LogFields{
				"event":       ctx.Event,
				"session_id":  ctx.SessionID,
				"recipients":  ctx.Recipients(),
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnDispatchError: func(ctx DispatchContext, err error) {
			logger.Error("Dispatch failed", err, loggingpkg.LogFields{
				"event":        ctx.Event,
				"session_id":   ctx.SessionID,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that report dispatches to caller-provided counters.
func MetricsHooks(onStart, onDone, onError func(event string, class relaypkg.Class)) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: func(ctx DispatchContext) {
			if onStart != nil {
				onStart(ctx.Event, ctx.Class)
			}
		},
		OnDispatchDone: func(ctx DispatchContext) {
			if onDone != nil {
				onDone(ctx.Event, ctx.Class)
			}
		},
		OnDispatchError: func(ctx DispatchContext, err error) {
			if onError != nil {
				onError(ctx.Event, ctx.Class)
			}
		},
	}
}

// AlertingHooks returns hooks that call alertFunc on dispatch errors.
func AlertingHooks(alertFunc func(ctx DispatchContext, err error)) DispatchHooks {
	return DispatchHooks{
		OnDispatchError: alertFunc,
	}
}
