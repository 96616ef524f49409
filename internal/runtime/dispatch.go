package runtime

import (
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	metadatapkg "github.com/drblury/devicerelay/internal/runtime/metadata"
	relaypkg "github.com/drblury/devicerelay/internal/runtime/relay"
)

// handleInbound is the only consumer of InboundTopic. Every registry mutation
// and every fan-out happens here, one message at a time.
func (s *Service) handleInbound(msg *message.Message) error {
	ev, err := EventFromMessage(msg)

	dctx := DispatchContext{
		Event:         ev.Name,
		Class:         ev.Class(),
		SessionID:     ev.Sender,
		MessageUUID:   msg.UUID,
		CorrelationID: msg.Metadata.Get(metadatapkg.KeyCorrelationID),
		Context:       msg.Context(),
		StartedAt:     time.Now(),
	}
	if err != nil {
		s.stats.RecordError(ev, err, s.getErrorClassifier())
		s.hooks.fail(dctx, err)
		return err
	}

	s.hooks.start(dctx)

	deliveries, err := s.dispatch(ev)
	dctx.Duration = time.Since(dctx.StartedAt)
	if err != nil {
		s.stats.RecordError(ev, err, s.getErrorClassifier())
		s.hooks.fail(dctx, err)
		return err
	}

	dctx.Deliveries = deliveries
	s.stats.Record(ev, deliveries, dctx.Duration)
	s.metrics.ObserveDispatch(ev, deliveries, dctx.Duration)
	s.hooks.done(dctx)
	return nil
}

func (s *Service) dispatch(ev relaypkg.Event) (deliveries []relaypkg.Delivery, err error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = middleware.RecoveredPanicError{V: r, Stacktrace: string(debug.Stack())}
		}
	}()
	return s.lifecycle.Handle(ev), nil
}
