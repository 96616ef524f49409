package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	configpkg "github.com/drblury/devicerelay/internal/runtime/config"
	errspkg "github.com/drblury/devicerelay/internal/runtime/errors"
	hubpkg "github.com/drblury/devicerelay/internal/runtime/hub"
	idspkg "github.com/drblury/devicerelay/internal/runtime/ids"
	lifecyclepkg "github.com/drblury/devicerelay/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/devicerelay/internal/runtime/logging"
	registrypkg "github.com/drblury/devicerelay/internal/runtime/registry"
	relaypkg "github.com/drblury/devicerelay/internal/runtime/relay"
	transportpkg "github.com/drblury/devicerelay/internal/runtime/transport"
	bus "github.com/drblury/devicerelay/transport"
)

const (
	// InboundTopic carries every event received from a connection, plus the
	// session-opened and session-closed events published by the gateway.
	InboundTopic = "relay.inbound"

	// DispatchHandlerName is the single router handler consuming InboundTopic.
	DispatchHandlerName = "relay-dispatch"
)

var errRouterNotInitialised = errors.New("devicerelay: router is not initialised")

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	Hooks                     DispatchHooks
	ErrorClassifier           ErrorClassifier
}

// Service wires the event bus, the dispatch handler, the websocket gateway and
// the HTTP surface around one registry and hub.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher    message.Publisher
	subscriber   message.Subscriber
	capabilities bus.Capabilities
	router       *message.Router

	registry  *registrypkg.Registry
	hub       *hubpkg.Hub
	relay     *relaypkg.Router
	lifecycle *lifecyclepkg.Controller

	// dispatchMu serialises the lifecycle controller regardless of how the
	// bus delivers messages.
	dispatchMu sync.Mutex

	hooks           DispatchHooks
	errorClassifier ErrorClassifier
	stats           *DispatchStats
	resourceTracker *resourceTracker

	promRegistry *prometheus.Registry
	metrics      *RelayMetrics

	upgrader websocket.Upgrader

	connMu    sync.Mutex
	accepting bool
	conns     sync.WaitGroup

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	running   atomic.Bool
	ready     chan struct{}
	startedAt time.Time
}

// TryNewService constructs a Service for the supplied configuration and
// returns an error when the configuration, bus or middleware chain cannot be
// set up.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if conf.InstanceID == "" {
		conf.InstanceID = idspkg.CreateULID()
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating relay service", loggingpkg.LogFields{
		"bus":    conf.BusName(),
		"config": conf.String(),
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		registry:        registrypkg.New(),
		hub:             hubpkg.New(),
		hooks:           deps.Hooks,
		errorClassifier: deps.ErrorClassifier,
		resourceTracker: newResourceTracker(),
		promRegistry:    prometheus.NewRegistry(),
		ready:           make(chan struct{}),
		startedAt:       time.Now(),
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}
	s.relay = relaypkg.NewRouter(s.registry, s.hub, log)
	s.lifecycle = lifecyclepkg.New(s.registry, s.relay, log)
	s.stats = newDispatchStats()
	s.upgrader = newUpgrader(conf.CORSAllowedOrigins)

	if conf.MetricsEnabled {
		s.metrics = NewRelayMetrics(
			func() float64 { return float64(s.hub.Len()) },
			func() float64 { return float64(s.registry.Len()) },
		)
		if err := s.metrics.Register(s.promRegistry); err != nil {
			return nil, fmt.Errorf("register relay metrics: %w", err)
		}
		s.promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build %s bus: %w", conf.BusName(), err)
	}
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber
	s.capabilities = transport.Capabilities
	if !s.capabilities.Fits(conf.MaxMessageBytes) {
		log.Info("Websocket read limit exceeds bus message size; larger frames will fail to publish", loggingpkg.LogFields{
			"bus":               s.capabilities.Name,
			"max_message_bytes": conf.MaxMessageBytes,
			"bus_max_bytes":     s.capabilities.MaxMessageSize,
		})
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: conf.ShutdownTimeout,
	}, wmLogger)
	if err != nil {
		_ = s.closeTransport()
		return nil, err
	}
	s.router = router

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		_ = s.closeTransport()
		return nil, err
	}
	s.router.AddNoPublisherHandler(DispatchHandlerName, InboundTopic, s.subscriber, s.handleInbound)

	s.registerRoutes()
	return s, nil
}

// NewService is TryNewService that panics on error.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// Start runs the bus router and the HTTP listeners until ctx is cancelled,
// then drains connections and shuts everything down.
func (s *Service) Start(ctx context.Context) error {
	if s.router == nil {
		return errRouterNotInitialised
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(runCtx) }()

	select {
	case <-s.Running():
	case err := <-runErr:
		return err
	}

	servers, serveErr := s.startHTTPServers()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		s.Logger.Error("HTTP server stopped", err, nil)
	case err = <-runErr:
		s.shutdownHTTPServers(servers)
		return err
	}

	s.shutdownHTTPServers(servers)
	cancel()
	return errors.Join(err, <-runErr)
}

// Run runs the dispatch router without any HTTP listener. Serve Handler
// yourself once Running is closed. Cancelling ctx closes every connection,
// waits for their session-closed events to be dispatched and stops the bus.
func (s *Service) Run(ctx context.Context) error {
	if s.router == nil {
		return errRouterNotInitialised
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("devicerelay: service is already running")
	}

	routerCtx, stopRouter := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRouter()

	routerErr := make(chan error, 1)
	go func() { routerErr <- routerRun(s.router, routerCtx) }()

	select {
	case <-s.router.Running():
		s.setAccepting(true)
		close(s.ready)
		s.Logger.Info("Relay dispatch running", loggingpkg.LogFields{
			"bus":         s.capabilities.Name,
			"instance_id": s.Conf.InstanceID,
		})
	case err := <-routerErr:
		return errors.Join(err, s.closeTransport())
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-routerErr:
		s.Logger.Error("Relay dispatch stopped unexpectedly", err, nil)
		s.drainConnections()
		return errors.Join(err, s.closeTransport())
	}

	s.drainConnections()
	stopRouter()
	err = <-routerErr
	return errors.Join(err, s.closeTransport())
}

// Running is closed once the dispatch handler is subscribed and websocket
// connections are accepted.
func (s *Service) Running() <-chan struct{} {
	return s.ready
}

// Handler returns the HTTP handler of the main listener.
func (s *Service) Handler() http.Handler {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()
	return s.muxLocked(s.Conf.Port)
}

// Registry exposes the live session registry.
func (s *Service) Registry() *registrypkg.Registry { return s.registry }

// Hub exposes the connections owned by this process.
func (s *Service) Hub() *hubpkg.Hub { return s.hub }

// Capabilities reports what the configured bus guarantees.
func (s *Service) Capabilities() bus.Capabilities { return s.capabilities }

// PrometheusRegistry returns the registry /metrics is served from.
func (s *Service) PrometheusRegistry() *prometheus.Registry { return s.promRegistry }

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

func (s *Service) closeTransport() error {
	return bus.Transport{Publisher: s.publisher, Subscriber: s.subscriber}.Close()
}

func (s *Service) setAccepting(v bool) {
	s.connMu.Lock()
	s.accepting = v
	s.connMu.Unlock()
}

func (s *Service) isAccepting() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.accepting
}

// trackConnection reserves a slot for a new websocket connection. It fails
// once shutdown has started.
func (s *Service) trackConnection() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if !s.accepting {
		return false
	}
	s.conns.Add(1)
	return true
}

// drainConnections stops accepting, closes every peer and waits for the
// gateway goroutines to publish their session-closed events.
func (s *Service) drainConnections() {
	s.setAccepting(false)

	closed := 0
	s.hub.Each(func(p hubpkg.Peer) bool {
		if c, ok := p.(interface{ Close() }); ok {
			c.Close()
			closed++
		}
		return true
	})
	if closed > 0 {
		s.Logger.Info("Closing connections", loggingpkg.LogFields{"connections": closed})
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	timeout := s.Conf.ShutdownTimeout
	if timeout <= 0 {
		timeout = configpkg.DefaultShutdownTimeout
	}
	select {
	case <-done:
	case <-time.After(timeout):
		s.Logger.Error("Timed out waiting for connections to close", context.DeadlineExceeded, loggingpkg.LogFields{
			"remaining": s.hub.Len(),
		})
	}
}

// RegisterHTTPHandler mounts handler on the listener for port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()
	s.muxLocked(port).Handle(pattern, handler)
}

func (s *Service) muxLocked(port int) *http.ServeMux {
	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}
	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}
	return mux
}

func (s *Service) startHTTPServers() ([]*http.Server, <-chan error) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	errCh := make(chan error, len(s.httpServers))
	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)

		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
		}(srv)
	}
	return servers, errCh
}

func (s *Service) shutdownHTTPServers(servers []*http.Server) {
	timeout := s.Conf.ShutdownTimeout
	if timeout <= 0 {
		timeout = configpkg.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to shut down HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
