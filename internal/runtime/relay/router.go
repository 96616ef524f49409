package relay

import (
	"github.com/drblury/devicerelay/internal/runtime/hub"
	"github.com/drblury/devicerelay/internal/runtime/jsoncodec"
	"github.com/drblury/devicerelay/internal/runtime/logging"
	"github.com/drblury/devicerelay/internal/runtime/registry"
)

const (
	keyTargetSessionID = "targetSessionId"
	keyCamera          = "camera"
	keyDeviceInfo      = "deviceInfo"

	CameraFront = "front"
	CameraBack  = "back"
)

// Router delivers events to the peers of a hub. It reads the registry for
// enrichment and rosters but never mutates it.
type Router struct {
	registry *registry.Registry
	hub      *hub.Hub
	logger   logging.ServiceLogger
}

// NewRouter wires a router over reg and h.
func NewRouter(reg *registry.Registry, h *hub.Hub, logger logging.ServiceLogger) *Router {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Router{
		registry: reg,
		hub:      h,
		logger:   logger.With(logging.LogFields{"component": "relay"}),
	}
}

// Dispatch routes a telemetry or command event. Anything else is dropped.
func (r *Router) Dispatch(ev Event) Delivery {
	switch ev.Class() {
	case ClassTelemetry:
		return r.RelayTelemetry(ev)
	case ClassCommand:
		return r.RelayCommand(ev)
	default:
		r.logger.Debug("Dropping event without relay rule", logging.LogFields{
			"event":      ev.Name,
			"session_id": ev.Sender,
		})
		return Delivery{Event: ev.Name, Mode: ModeDropped}
	}
}

type deviceInfo struct {
	ID         string `json:"id"`
	DeviceName any    `json:"deviceName,omitempty"`
	IP         string `json:"ip"`
}

// RelayTelemetry broadcasts ev to every peer, the sender included. Object
// payloads from registered senders gain a deviceInfo member.
func (r *Router) RelayTelemetry(ev Event) Delivery {
	return r.Broadcast(ev.Name, r.enrich(ev), "")
}

func (r *Router) enrich(ev Event) []byte {
	session, ok := r.registry.Lookup(ev.Sender)
	if !ok {
		return ev.Data
	}
	obj, ok := jsoncodec.DecodeObject(ev.Data)
	if !ok {
		return ev.Data
	}
	err := obj.Set(keyDeviceInfo, deviceInfo{
		ID:         session.ID,
		DeviceName: session.DeviceName(),
		IP:         session.RemoteAddress,
	})
	if err != nil {
		r.logger.Error("Failed to attach device info", err, logging.LogFields{"event": ev.Name, "session_id": ev.Sender})
		return ev.Data
	}
	enriched, err := obj.Bytes()
	if err != nil {
		r.logger.Error("Failed to encode enriched telemetry", err, logging.LogFields{"event": ev.Name, "session_id": ev.Sender})
		return ev.Data
	}
	return enriched
}

// RelayCommand unicasts ev when it names a target and otherwise broadcasts
// it to everyone but the sender. The sender never receives its own command.
func (r *Router) RelayCommand(ev Event) Delivery {
	target, params := parseCommand(ev.Data)

	var data []byte
	if ev.Name == EventRemoteStartCamera {
		data = cameraParams(params)
	} else if len(params) > 0 {
		data, _ = params.Bytes()
	}

	if target == "" {
		return r.Broadcast(ev.Name, data, ev.Sender)
	}
	if target == ev.Sender {
		r.logger.Debug("Dropping command addressed to its sender", logging.LogFields{
			"event":      ev.Name,
			"session_id": ev.Sender,
		})
		return Delivery{Event: ev.Name, Mode: ModeUnicast, Target: target}
	}
	return r.Unicast(target, ev.Name, data)
}

// parseCommand splits command data into a target id and the remaining
// parameters. A JSON string is a bare target id; an object may carry
// targetSessionId. Anything else has neither.
func parseCommand(data []byte) (string, jsoncodec.Object) {
	if id, ok := jsoncodec.DecodeString(data); ok {
		return id, nil
	}
	obj, ok := jsoncodec.DecodeObject(data)
	if !ok {
		return "", nil
	}
	raw, present := obj[keyTargetSessionID]
	delete(obj, keyTargetSessionID)
	if !present {
		return "", obj
	}
	target, _ := jsoncodec.DecodeString(raw)
	return target, obj
}

func cameraParams(params jsoncodec.Object) []byte {
	out := jsoncodec.Object{}
	for k, v := range params {
		out[k] = v
	}
	camera, _ := jsoncodec.DecodeString(params[keyCamera])
	if camera != CameraFront {
		camera = CameraBack
	}
	_ = out.Set(keyCamera, camera)
	data, _ := out.Bytes()
	return data
}

// Broadcast hands one encoded frame to every peer except exclude.
func (r *Router) Broadcast(name string, data []byte, exclude string) Delivery {
	d := Delivery{Event: name, Mode: ModeBroadcast}
	frame, ok := r.encode(name, data)
	if !ok {
		d.Mode = ModeDropped
		return d
	}
	for _, p := range r.hub.Peers() {
		if exclude != "" && p.ID() == exclude {
			continue
		}
		if p.Send(frame) {
			d.Recipients++
		} else {
			d.Dropped++
		}
	}
	r.logDelivery(d)
	return d
}

// Unicast hands the frame to the peer with id target. A missing peer is not
// an error; the delivery reports zero recipients.
func (r *Router) Unicast(target, name string, data []byte) Delivery {
	d := Delivery{Event: name, Mode: ModeUnicast, Target: target}
	p, ok := r.hub.Get(target)
	if !ok {
		r.logger.Debug("Unicast target not connected", logging.LogFields{"event": name, "target": target})
		return d
	}
	frame, ok := r.encode(name, data)
	if !ok {
		d.Mode = ModeDropped
		return d
	}
	if p.Send(frame) {
		d.Recipients = 1
	} else {
		d.Dropped = 1
	}
	r.logDelivery(d)
	return d
}

// Roster returns the current roster encoded as a JSON array.
func (r *Router) Roster() ([]byte, error) {
	return jsoncodec.Marshal(r.registry.Snapshot())
}

// BroadcastRoster sends devices-updated to every peer.
func (r *Router) BroadcastRoster() Delivery {
	roster, err := r.Roster()
	if err != nil {
		r.logger.Error("Failed to encode roster", err, nil)
		return Delivery{Event: EventDevicesUpdated, Mode: ModeDropped}
	}
	return r.Broadcast(EventDevicesUpdated, roster, "")
}

// SendRoster sends devices-updated to one peer.
func (r *Router) SendRoster(target string) Delivery {
	roster, err := r.Roster()
	if err != nil {
		r.logger.Error("Failed to encode roster", err, nil)
		return Delivery{Event: EventDevicesUpdated, Mode: ModeDropped, Target: target}
	}
	return r.Unicast(target, EventDevicesUpdated, roster)
}

func (r *Router) encode(name string, data []byte) ([]byte, bool) {
	frame, err := EncodeFrame(name, data)
	if err != nil {
		r.logger.Error("Failed to encode frame", err, logging.LogFields{"event": name})
		return nil, false
	}
	return frame, true
}

func (r *Router) logDelivery(d Delivery) {
	fields := logging.LogFields{
		"event":      d.Event,
		"mode":       string(d.Mode),
		"recipients": d.Recipients,
	}
	if d.Target != "" {
		fields["target"] = d.Target
	}
	if d.Dropped > 0 {
		fields["dropped"] = d.Dropped
	}
	r.logger.Trace("Delivered event", fields)
}
