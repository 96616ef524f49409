// Package relay routes inbound events to open connections. It decides
// between broadcast and unicast from the event class and payload shape, and
// enriches telemetry with the sender's registration.
package relay

import "github.com/drblury/devicerelay/internal/runtime/registry"

// Inbound and outbound event names.
const (
	EventRegisterDevice = "register-device"

	EventShareScreen   = "share-screen"
	EventShareVoice    = "share-voice"
	EventShareLocation = "share-location"

	EventRemoteStartScreenCapture = "remote-start-screen-capture"
	EventRemoteStopScreenCapture  = "remote-stop-screen-capture"
	EventRemoteStartCamera        = "remote-start-camera"
	EventRemoteStopCamera         = "remote-stop-camera"
	EventRemoteSwitchCamera       = "remote-switch-camera"
	EventRemoteStartLocation      = "remote-start-location"
	EventRemoteStopLocation       = "remote-stop-location"

	EventDevicesUpdated = "devices-updated"
	EventConnected      = "connected"

	// Published by the gateway, never accepted from clients.
	EventSessionOpened = "session-opened"
	EventSessionClosed = "session-closed"
)

// Class groups events that share addressing and enrichment rules.
type Class string

const (
	ClassLifecycle    Class = "lifecycle"
	ClassRegistration Class = "registration"
	ClassTelemetry    Class = "telemetry"
	ClassCommand      Class = "command"
	ClassUnknown      Class = "unknown"
)

var classes = map[string]Class{
	EventSessionOpened: ClassLifecycle,
	EventSessionClosed: ClassLifecycle,

	EventRegisterDevice: ClassRegistration,

	EventShareScreen:   ClassTelemetry,
	EventShareVoice:    ClassTelemetry,
	EventShareLocation: ClassTelemetry,

	EventRemoteStartScreenCapture: ClassCommand,
	EventRemoteStopScreenCapture:  ClassCommand,
	EventRemoteStartCamera:        ClassCommand,
	EventRemoteStopCamera:         ClassCommand,
	EventRemoteSwitchCamera:       ClassCommand,
	EventRemoteStartLocation:      ClassCommand,
	EventRemoteStopLocation:       ClassCommand,
}

// Classify returns the class of an event name.
func Classify(name string) Class {
	if c, ok := classes[name]; ok {
		return c
	}
	return ClassUnknown
}

// ClientEvent reports whether clients may send name. Lifecycle events are
// reserved for the gateway. Unknown names are accepted so dispatch can count
// them before dropping.
func ClientEvent(name string) bool {
	return Classify(name) != ClassLifecycle
}

// Event is one inbound event. Data is the raw JSON payload and may be empty.
// Connection is only set on session-opened.
type Event struct {
	Name       string
	Sender     string
	Data       []byte
	Connection registry.ConnectInfo
}

// Class returns the class of e.
func (e Event) Class() Class {
	return Classify(e.Name)
}

// Mode describes how an event left the router.
type Mode string

const (
	ModeBroadcast Mode = "broadcast"
	ModeUnicast   Mode = "unicast"
	ModeDropped   Mode = "dropped"
)

// Delivery reports what happened to one outbound event. Recipients counts
// peers that accepted the frame; Dropped counts peers whose queue was full.
type Delivery struct {
	Event      string
	Mode       Mode
	Target     string
	Recipients int
	Dropped    int
}
