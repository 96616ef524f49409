package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	sampleCPUSeconds = "/sched/cpu:seconds"
	sampleHeapBytes  = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"
)

// ResourceUsage is a coarse view of the process for /api/stats.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// resourceTracker derives CPU usage from the delta between two snapshots.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: newResourceSamples(),
		numCPU:  float64(runtime.NumCPU()),
	}
}

func newResourceSamples() []metrics.Sample {
	return []metrics.Sample{
		{Name: sampleCPUSeconds},
		{Name: sampleHeapBytes},
		{Name: sampleGoroutines},
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = newResourceSamples()
	}
	metrics.Read(r.samples)

	var usage ResourceUsage
	now := time.Now()
	for _, s := range r.samples {
		switch s.Name {
		case sampleCPUSeconds:
			if s.Value.Kind() != metrics.KindFloat64 {
				continue
			}
			cpuSeconds := s.Value.Float64()
			if !r.lastSample.IsZero() {
				deltaWall := now.Sub(r.lastSample).Seconds()
				if deltaWall > 0 && r.numCPU > 0 {
					usage.CPUPercent = (cpuSeconds - r.lastCPUSeconds) / deltaWall / r.numCPU * 100
				}
			}
			r.lastCPUSeconds = cpuSeconds
		case sampleHeapBytes:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.MemoryBytes = s.Value.Uint64()
			}
		case sampleGoroutines:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.Goroutines = int(s.Value.Uint64())
			}
		}
	}
	r.lastSample = now

	if usage.Goroutines == 0 {
		usage.Goroutines = runtime.NumGoroutine()
	}
	return usage
}
