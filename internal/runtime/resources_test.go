package runtime

import (
	"runtime"
	"testing"
	"time"
)

func TestResourceTrackerSnapshot(t *testing.T) {
	tracker := newResourceTracker()

	first := tracker.Snapshot()
	if first.CPUPercent != 0 {
		t.Errorf("first snapshot has no baseline, got %f%% cpu", first.CPUPercent)
	}
	if first.MemoryBytes == 0 {
		t.Error("expected heap bytes to be reported")
	}
	if first.Goroutines == 0 {
		t.Error("expected goroutines to be reported")
	}

	done := make(chan struct{})
	go func() {
		<-done
	}()
	defer close(done)

	time.Sleep(10 * time.Millisecond)
	second := tracker.Snapshot()
	if second.CPUPercent < 0 {
		t.Errorf("cpu percent went negative: %f", second.CPUPercent)
	}
	if second.Goroutines < 2 {
		t.Errorf("expected at least 2 goroutines, got %d (runtime reports %d)", second.Goroutines, runtime.NumGoroutine())
	}
}

func TestResourceTrackerNil(t *testing.T) {
	var tracker *resourceTracker
	if usage := tracker.Snapshot(); usage != (ResourceUsage{}) {
		t.Errorf("nil tracker should report nothing, got %+v", usage)
	}
}

func TestResourceTrackerRebuildsSamples(t *testing.T) {
	tracker := &resourceTracker{}
	usage := tracker.Snapshot()
	if usage.MemoryBytes == 0 {
		t.Error("expected heap bytes after rebuilding samples")
	}
	if len(tracker.samples) != 3 {
		t.Errorf("expected 3 samples, got %d", len(tracker.samples))
	}
}
