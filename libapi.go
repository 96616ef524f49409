package devicerelay

import (
	runtimepkg "github.com/drblury/devicerelay/internal/runtime"
	configpkg "github.com/drblury/devicerelay/internal/runtime/config"
	errspkg "github.com/drblury/devicerelay/internal/runtime/errors"
	hubpkg "github.com/drblury/devicerelay/internal/runtime/hub"
	idspkg "github.com/drblury/devicerelay/internal/runtime/ids"
	jsoncodec "github.com/drblury/devicerelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/devicerelay/internal/runtime/logging"
	metadatapkg "github.com/drblury/devicerelay/internal/runtime/metadata"
	registrypkg "github.com/drblury/devicerelay/internal/runtime/registry"
	relaypkg "github.com/drblury/devicerelay/internal/runtime/relay"
	transportpkg "github.com/drblury/devicerelay/internal/runtime/transport"
	bus "github.com/drblury/devicerelay/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	// Relay domain
	Event       = relaypkg.Event
	EventClass  = relaypkg.Class
	Envelope    = relaypkg.Envelope
	Delivery    = relaypkg.Delivery
	Mode        = relaypkg.Mode
	Session     = registrypkg.Session
	ConnectInfo = registrypkg.ConnectInfo
	Registry    = registrypkg.Registry
	Hub         = hubpkg.Hub
	Peer        = hubpkg.Peer

	// Dispatch hooks
	DispatchContext = runtimepkg.DispatchContext
	DispatchHooks   = runtimepkg.DispatchHooks

	// Monitoring
	StatusResponse = runtimepkg.StatusResponse
	StatsSnapshot  = runtimepkg.StatsSnapshot
	EventStats     = runtimepkg.EventStats
	RelayMetrics   = runtimepkg.RelayMetrics

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// Bus transports
	Capabilities      = bus.Capabilities
	TransportBuilder  = bus.Builder
	TransportConfig   = bus.Config
	TransportRegistry = bus.Registry
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	LoadConfigFile = configpkg.LoadFile
	ValidateConfig = configpkg.ValidateConfig

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	NonFatalMiddleware      = runtimepkg.NonFatalMiddleware
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewRelayMetrics = runtimepkg.NewRelayMetrics

	NewEventMessage  = runtimepkg.NewEventMessage
	EventFromMessage = runtimepkg.EventFromMessage
	PublishEvent     = runtimepkg.PublishEvent

	Classify       = relaypkg.Classify
	DecodeEnvelope = relaypkg.DecodeEnvelope
	EncodeFrame    = relaypkg.EncodeFrame

	DefaultTransportFactory  = transportpkg.DefaultFactory
	DefaultTransportRegistry = bus.DefaultRegistry
	RegisterTransport        = bus.Register
	BuildTransport           = bus.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrEventNameRequired = errspkg.ErrEventNameRequired
	ErrSessionIDRequired = errspkg.ErrSessionIDRequired
	ErrMalformedEnvelope = errspkg.ErrMalformedEnvelope

	NewSlogLogger        = loggingpkg.NewSlogLogger
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.Nop

	NewMetadata = metadatapkg.New

	CreateULID   = idspkg.CreateULID
	NewSessionID = idspkg.NewSessionID
)

// Bus topic and handler names.
const (
	InboundTopic        = runtimepkg.InboundTopic
	DispatchHandlerName = runtimepkg.DispatchHandlerName
)

// Event names.
const (
	EventRegisterDevice = relaypkg.EventRegisterDevice

	EventShareScreen   = relaypkg.EventShareScreen
	EventShareVoice    = relaypkg.EventShareVoice
	EventShareLocation = relaypkg.EventShareLocation

	EventRemoteStartScreenCapture = relaypkg.EventRemoteStartScreenCapture
	EventRemoteStopScreenCapture  = relaypkg.EventRemoteStopScreenCapture
	EventRemoteStartCamera        = relaypkg.EventRemoteStartCamera
	EventRemoteStopCamera         = relaypkg.EventRemoteStopCamera
	EventRemoteSwitchCamera       = relaypkg.EventRemoteSwitchCamera
	EventRemoteStartLocation      = relaypkg.EventRemoteStartLocation
	EventRemoteStopLocation       = relaypkg.EventRemoteStopLocation

	EventDevicesUpdated = relaypkg.EventDevicesUpdated
	EventConnected      = relaypkg.EventConnected

	EventSessionOpened = relaypkg.EventSessionOpened
	EventSessionClosed = relaypkg.EventSessionClosed
)

// Event classes.
const (
	ClassLifecycle    = relaypkg.ClassLifecycle
	ClassRegistration = relaypkg.ClassRegistration
	ClassTelemetry    = relaypkg.ClassTelemetry
	ClassCommand      = relaypkg.ClassCommand
	ClassUnknown      = relaypkg.ClassUnknown
)

// Metadata keys carried on bus messages.
const (
	MetadataKeyEvent         = metadatapkg.KeyEvent
	MetadataKeySessionID     = metadatapkg.KeySessionID
	MetadataKeyInstanceID    = metadatapkg.KeyInstanceID
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryPanic      = runtimepkg.ErrorCategoryPanic
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)
