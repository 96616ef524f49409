package runtime

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	errspkg "github.com/drblury/devicerelay/internal/runtime/errors"
	relaypkg "github.com/drblury/devicerelay/internal/runtime/relay"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// EventStats aggregates dispatches of one event name.
type EventStats struct {
	Class          relaypkg.Class `json:"class"`
	Dispatched     uint64         `json:"dispatched"`
	Failed         uint64         `json:"failed"`
	Broadcasts     uint64         `json:"broadcasts"`
	Unicasts       uint64         `json:"unicasts"`
	Dropped        uint64         `json:"dropped"`
	Recipients     uint64         `json:"recipients"`
	FramesDropped  uint64         `json:"frames_dropped"`
	LastDispatched time.Time      `json:"last_dispatched_at"`
	Latency        LatencyMetrics `json:"latency"`

	latencyWindow   *latencyWindow
	totalDispatchNs int64
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Panic      uint64 `json:"panic"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryPanic      ErrorCategory = "panic"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier buckets dispatch errors for /api/stats.
type ErrorClassifier func(error) ErrorCategory

// StatsSnapshot is the body of /api/stats.
type StatsSnapshot struct {
	UptimeSeconds float64               `json:"uptime_seconds"`
	Connections   int                   `json:"connections"`
	Sessions      int                   `json:"sessions"`
	Bus           string                `json:"bus"`
	Throughput    ThroughputMetrics     `json:"throughput"`
	Errors        ErrorBreakdown        `json:"errors"`
	Events        map[string]EventStats `json:"events"`
	Resource      ResourceUsage         `json:"resource"`
}

// DispatchStats counts dispatches per event name. The dispatch path writes,
// HTTP readers take snapshots.
type DispatchStats struct {
	mu         sync.Mutex
	events     map[string]*EventStats
	errors     ErrorBreakdown
	throughput *throughputWindow
	total      uint64
}

func newDispatchStats() *DispatchStats {
	return &DispatchStats{
		events:     make(map[string]*EventStats),
		throughput: newThroughputWindow(throughputWindowSize),
	}
}

func (d *DispatchStats) eventLocked(name string, class relaypkg.Class) *EventStats {
	// Unknown names come from clients; folding them keeps the map bounded.
	if class == relaypkg.ClassUnknown {
		name = string(relaypkg.ClassUnknown)
	}
	st, ok := d.events[name]
	if !ok {
		st = &EventStats{Class: class, latencyWindow: newLatencyWindow(latencySampleSize)}
		d.events[name] = st
	}
	return st
}

// Record adds one successful dispatch.
func (d *DispatchStats) Record(ev relaypkg.Event, deliveries []relaypkg.Delivery, duration time.Duration) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.total++
	d.throughput.AddAndSnapshot(now)

	st := d.eventLocked(ev.Name, ev.Class())
	st.Dispatched++
	st.LastDispatched = now.UTC()
	st.totalDispatchNs += int64(duration)
	for _, dl := range deliveries {
		switch dl.Mode {
		case relaypkg.ModeBroadcast:
			st.Broadcasts++
		case relaypkg.ModeUnicast:
			st.Unicasts++
		case relaypkg.ModeDropped:
			st.Dropped++
		}
		st.Recipients += uint64(dl.Recipients)
		st.FramesDropped += uint64(dl.Dropped)
	}

	st.latencyWindow.Add(duration)
	snapshot := st.latencyWindow.Snapshot()
	snapshot.AverageNs = st.totalDispatchNs / int64(st.Dispatched)
	st.Latency = snapshot
}

// RecordError adds one failed dispatch.
func (d *DispatchStats) RecordError(ev relaypkg.Event, err error, classifier ErrorClassifier) {
	if classifier == nil {
		classifier = defaultErrorClassifier
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.total++
	d.errors.Record(classifier(err), err)
	if ev.Name != "" {
		d.eventLocked(ev.Name, ev.Class()).Failed++
	}
}

// Snapshot copies the counters.
func (d *DispatchStats) Snapshot() StatsSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := StatsSnapshot{
		Errors: d.errors,
		Events: make(map[string]EventStats, len(d.events)),
	}
	now := time.Now()
	d.throughput.cleanup(now)
	tp := d.throughput.snapshot(now)
	snap.Throughput = ThroughputMetrics{
		CurrentRPS:       tp.CurrentRPS,
		WindowSeconds:    tp.WindowSeconds,
		MessagesInWindow: uint64(tp.Count),
		TotalMessages:    d.total,
	}
	for name, st := range d.events {
		cp := *st
		cp.latencyWindow = nil
		snap.Events[name] = cp
	}
	return snap
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryPanic:
		e.Panic++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
	return tw.snapshot(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	if tw == nil || len(tw.samples) == 0 {
		return
	}
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) snapshot(now time.Time) throughputSnapshot {
	if tw == nil || len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	if errors.Is(err, errspkg.ErrEventNameRequired) || errors.Is(err, errspkg.ErrSessionIDRequired) {
		return ErrorCategoryValidation
	}
	var recovered middleware.RecoveredPanicError
	if errors.As(err, &recovered) {
		return ErrorCategoryPanic
	}
	return ErrorCategoryOther
}
