// Package lifecycle drives the per-connection state machine and keeps the
// registry and roster in step with it.
package lifecycle

import (
	"github.com/drblury/devicerelay/internal/runtime/jsoncodec"
	"github.com/drblury/devicerelay/internal/runtime/logging"
	"github.com/drblury/devicerelay/internal/runtime/registry"
	"github.com/drblury/devicerelay/internal/runtime/relay"
)

// State is the position of one connection in its lifecycle.
type State int

const (
	StateUnknown State = iota
	StateConnected
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultTombstones is how many closed ids are remembered so late events for
// them are ignored.
const DefaultTombstones = 4096

type session struct {
	info  registry.ConnectInfo
	state State
}

// Controller applies lifecycle transitions. It is not safe for concurrent
// use: every call must come from the single dispatch path.
type Controller struct {
	registry *registry.Registry
	router   *relay.Router
	logger   logging.ServiceLogger

	sessions   map[string]*session
	tombstones map[string]struct{}
	order      []string
	maxTombs   int
}

// New creates a controller over reg, delivering through router.
func New(reg *registry.Registry, router *relay.Router, logger logging.ServiceLogger) *Controller {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Controller{
		registry:   reg,
		router:     router,
		logger:     logger.With(logging.LogFields{"component": "lifecycle"}),
		sessions:   make(map[string]*session),
		tombstones: make(map[string]struct{}),
		maxTombs:   DefaultTombstones,
	}
}

// State reports the lifecycle state of id.
func (c *Controller) State(id string) State {
	if s, ok := c.sessions[id]; ok {
		return s.state
	}
	if _, ok := c.tombstones[id]; ok {
		return StateClosed
	}
	return StateUnknown
}

// Handle is the dispatch entry for every inbound event.
func (c *Controller) Handle(ev relay.Event) []relay.Delivery {
	switch ev.Name {
	case relay.EventSessionOpened:
		return c.Open(ev.Sender, ev.Connection)
	case relay.EventSessionClosed:
		return c.Close(ev.Sender)
	case relay.EventRegisterDevice:
		return c.Register(ev.Sender, ev.Data)
	}

	if c.State(ev.Sender) == StateClosed {
		c.logger.Debug("Ignoring event from closed session", logging.LogFields{
			"event":      ev.Name,
			"session_id": ev.Sender,
		})
		return nil
	}
	return []relay.Delivery{c.router.Dispatch(ev)}
}

// Open records a freshly accepted connection and greets it with its id and
// the current roster.
func (c *Controller) Open(id string, info registry.ConnectInfo) []relay.Delivery {
	if c.State(id) != StateUnknown {
		c.logger.Debug("Ignoring duplicate open", logging.LogFields{"session_id": id})
		return nil
	}
	c.sessions[id] = &session{info: info, state: StateConnected}
	c.logger.Info("Session connected", logging.LogFields{
		"session_id":  id,
		"remote_addr": info.RemoteAddress,
	})

	greeting, err := jsoncodec.Marshal(map[string]string{"sessionId": id})
	if err != nil {
		c.logger.Error("Failed to encode greeting", err, logging.LogFields{"session_id": id})
		return []relay.Delivery{c.router.SendRoster(id)}
	}
	return []relay.Delivery{
		c.router.Unicast(id, relay.EventConnected, greeting),
		c.router.SendRoster(id),
	}
}

// Register merges the declared device info into the registry and broadcasts
// the roster to everyone. Data that is not an object registers no fields.
func (c *Controller) Register(id string, data []byte) []relay.Delivery {
	if c.State(id) == StateClosed {
		c.logger.Debug("Ignoring registration for closed session", logging.LogFields{"session_id": id})
		return nil
	}

	declared := map[string]any{}
	if _, ok := jsoncodec.DecodeObject(data); ok {
		if err := jsoncodec.UnmarshalNumbers(data, &declared); err != nil {
			declared = map[string]any{}
		}
	}

	s, ok := c.sessions[id]
	if !ok {
		s = &session{}
		c.sessions[id] = s
	}
	s.state = StateRegistered
	c.registry.Register(id, s.info, declared)

	c.logger.Info("Device registered", logging.LogFields{
		"session_id":  id,
		"device_name": declared["deviceName"],
	})
	return []relay.Delivery{c.router.BroadcastRoster()}
}

// Close removes id from the registry and rebroadcasts the roster.
func (c *Controller) Close(id string) []relay.Delivery {
	if c.State(id) == StateClosed {
		return nil
	}
	delete(c.sessions, id)
	c.registry.Remove(id)
	c.tombstone(id)

	c.logger.Info("Session closed", logging.LogFields{"session_id": id})
	return []relay.Delivery{c.router.BroadcastRoster()}
}

func (c *Controller) tombstone(id string) {
	c.tombstones[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > c.maxTombs {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.tombstones, oldest)
	}
}
