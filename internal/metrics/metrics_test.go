package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m := New(Config{})
	m.Inc(MetricSessionIssued)
	m.Observe(MetricVerifyLatency, time.Millisecond)
	if m.Value(MetricSessionIssued) != 0 {
		t.Fatal("disabled metrics must not count")
	}
	if s := m.Snapshot(); len(s.Counters) != 0 || len(s.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", s)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	m := New(Config{Enabled: true})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricRotateSuccess)
			}
		}()
	}
	wg.Wait()
	if got := m.Value(MetricRotateSuccess); got != 16000 {
		t.Fatalf("expected 16000, got %d", got)
	}
	m.Add(MetricCleanupDeleted, 7)
	if got := m.Snapshot().Counters[MetricCleanupDeleted]; got != 7 {
		t.Fatalf("expected 7 deleted, got %d", got)
	}
}

func TestLatencyBuckets(t *testing.T) {
	m := New(Config{Enabled: true, EnableLatency: true})
	m.Observe(MetricVerifyLatency, 3*time.Millisecond)
	m.Observe(MetricVerifyLatency, 40*time.Millisecond)
	m.Observe(MetricVerifyLatency, time.Second)
	m.Observe(MetricSessionIssued, time.Millisecond)

	b := m.Snapshot().Histograms[MetricVerifyLatency]
	if len(b) != HistBucketCount {
		t.Fatalf("expected %d buckets, got %d", HistBucketCount, len(b))
	}
	if b[0] != 1 || b[3] != 1 || b[7] != 1 {
		t.Fatalf("unexpected buckets %v", b)
	}
}
