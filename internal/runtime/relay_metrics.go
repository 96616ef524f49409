package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	relaypkg "github.com/drblury/devicerelay/internal/runtime/relay"
)

const (
	metricsNamespace = "devicerelay"
	metricsSubsystem = "relay"
)

// RelayMetrics holds the Prometheus collectors for event routing.
type RelayMetrics struct {
	mu         sync.Mutex
	registered bool

	eventsTotal      *prometheus.CounterVec
	deliveriesTotal  *prometheus.CounterVec
	framesDropped    prometheus.Counter
	dispatchDuration *prometheus.HistogramVec
	connectionsOpen  prometheus.GaugeFunc
	sessions         prometheus.GaugeFunc
}

func newRelayCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newRelayGaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		fn,
	)
}

func newRelayHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewRelayMetrics creates the collectors. connections and sessions are read
// on every scrape.
func NewRelayMetrics(connections, sessions func() float64) *RelayMetrics {
	if connections == nil {
		connections = func() float64 { return 0 }
	}
	if sessions == nil {
		sessions = func() float64 { return 0 }
	}
	return &RelayMetrics{
		eventsTotal:     newRelayCounterVec("events_total", "Inbound events dispatched, by event name and class", []string{"event", "class"}),
		deliveriesTotal: newRelayCounterVec("deliveries_total", "Outbound deliveries, by event name and addressing mode", []string{"event", "mode"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because a connection's send buffer was full",
		}),
		dispatchDuration: newRelayHistogramVec("dispatch_duration_seconds", "Time spent dispatching one inbound event", prometheus.ExponentialBuckets(0.00005, 4, 8), []string{"class"}),
		connectionsOpen:  newRelayGaugeFunc("connections_open", "Open websocket connections owned by this instance", connections),
		sessions:         newRelayGaugeFunc("sessions_registered", "Sessions currently in the roster", sessions),
	}
}

// Register registers the collectors on reg. Safe to call multiple times.
func (m *RelayMetrics) Register(reg prometheus.Registerer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	collectors := []prometheus.Collector{
		m.eventsTotal,
		m.deliveriesTotal,
		m.framesDropped,
		m.dispatchDuration,
		m.connectionsOpen,
		m.sessions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// ObserveDispatch records one dispatched event and what the router did with it.
func (m *RelayMetrics) ObserveDispatch(ev relaypkg.Event, deliveries []relaypkg.Delivery, duration time.Duration) {
	if m == nil {
		return
	}
	class := ev.Class()
	m.eventsTotal.WithLabelValues(eventLabel(ev.Name), string(class)).Inc()
	m.dispatchDuration.WithLabelValues(string(class)).Observe(duration.Seconds())

	for _, d := range deliveries {
		m.deliveriesTotal.WithLabelValues(eventLabel(d.Event), string(d.Mode)).Inc()
		if d.Dropped > 0 {
			m.framesDropped.Add(float64(d.Dropped))
		}
	}
}

// eventLabel folds client-chosen names so label cardinality stays bounded.
func eventLabel(name string) string {
	switch relaypkg.Classify(name) {
	case relaypkg.ClassUnknown:
		if name == relaypkg.EventDevicesUpdated || name == relaypkg.EventConnected {
			return name
		}
		return string(relaypkg.ClassUnknown)
	default:
		return name
	}
}
