package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	events  []Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher must report zero counters")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Emit(context.Background(), Event{EventType: "burst"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked with DropIfFull enabled")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}

	close(sink.release)
	d.Close()
	if got := d.Delivered() + d.Dropped(); got != 10 {
		t.Fatalf("expected delivered+dropped == 10, got %d", got)
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "e", RiskScore: i})
	}
	d.Close()

	if len(sink.Events()) != 5 {
		t.Fatalf("expected 5 drained events, got %d", len(sink.Events()))
	}
	first := <-sink.Events()
	if first.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be stamped")
	}

	d.Emit(context.Background(), Event{EventType: "late"})
	if len(sink.Events()) != 4 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{EventType: "account_locked", ActorID: "u1", RiskScore: 85})

	line := strings.TrimSpace(buf.String())
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.EventType != "account_locked" || got.RiskScore != 85 || got.ActorID != "u1" {
		t.Fatalf("unexpected event %+v", got)
	}
}
