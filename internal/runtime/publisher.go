package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/devicerelay/internal/runtime/errors"
	idspkg "github.com/drblury/devicerelay/internal/runtime/ids"
	metadatapkg "github.com/drblury/devicerelay/internal/runtime/metadata"
	registrypkg "github.com/drblury/devicerelay/internal/runtime/registry"
	relaypkg "github.com/drblury/devicerelay/internal/runtime/relay"
)

// NewEventMessage converts ev into a bus message. The payload is the raw
// event data; name, sender and connect-time facts travel as metadata.
func NewEventMessage(ev relaypkg.Event, metadata metadatapkg.Metadata) (*message.Message, error) {
	if ev.Name == "" {
		return nil, errspkg.ErrEventNameRequired
	}
	if ev.Sender == "" {
		return nil, errspkg.ErrSessionIDRequired
	}

	msg := message.NewMessage(idspkg.CreateULID(), ev.Data)
	msg.Metadata = metadatapkg.ToWatermill(metadata, ev.Name, ev.Sender)

	if ev.Name == relaypkg.EventSessionOpened {
		c := ev.Connection
		msg.Metadata.Set(metadatapkg.KeyRemoteAddr, c.RemoteAddress)
		msg.Metadata.Set(metadatapkg.KeyUserAgent, c.UserAgent)
		if !c.ConnectedAt.IsZero() {
			msg.Metadata.Set(metadatapkg.KeyConnectedAt, c.ConnectedAt.UTC().Format(time.RFC3339Nano))
		}
	}
	return msg, nil
}

// EventFromMessage reverses NewEventMessage.
func EventFromMessage(msg *message.Message) (relaypkg.Event, error) {
	md := metadatapkg.FromWatermill(msg.Metadata)
	ev := relaypkg.Event{
		Name:   md.Event(),
		Sender: md.SessionID(),
		Data:   msg.Payload,
	}
	if ev.Name == "" {
		return ev, errspkg.ErrEventNameRequired
	}
	if ev.Sender == "" {
		return ev, errspkg.ErrSessionIDRequired
	}

	if ev.Name == relaypkg.EventSessionOpened {
		ev.Connection = registrypkg.ConnectInfo{
			RemoteAddress: md[metadatapkg.KeyRemoteAddr],
			UserAgent:     md[metadatapkg.KeyUserAgent],
		}
		if raw := md[metadatapkg.KeyConnectedAt]; raw != "" {
			if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				ev.Connection.ConnectedAt = at
			}
		}
	}
	return ev, nil
}

// PublishEvent builds the bus message for ev and publishes it to topic.
func PublishEvent(ctx context.Context, publisher message.Publisher, topic string, ev relaypkg.Event, metadata metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	msg, err := NewEventMessage(ev, metadata)
	if err != nil {
		return err
	}

	if ctx != nil {
		msg.SetContext(ctx)
	}

	return publisher.Publish(topic, msg)
}

// PublishEvent puts ev on the inbound topic as if a connection had sent it.
func (s *Service) PublishEvent(ctx context.Context, ev relaypkg.Event) error {
	if s == nil {
		return errors.New("relay service is nil")
	}
	md := metadatapkg.New(metadatapkg.KeyInstanceID, s.Conf.InstanceID)
	return PublishEvent(ctx, s.publisher, InboundTopic, ev, md)
}
