package health

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/drivecam/relay/internal/frame"
)

func TestTrackerStartsIdle(t *testing.T) {
	tr := NewTracker(3)
	for _, ch := range frame.Channels {
		if got := tr.Status(ch); got != StatusIdle {
			t.Errorf("Status(%s) = %q, want idle", ch, got)
		}
	}
}

func TestTrackerProducerPresence(t *testing.T) {
	tr := NewTracker(3)

	if n := tr.ProducerConnected(frame.Driver); n != 1 {
		t.Fatalf("ProducerConnected = %d, want 1", n)
	}
	if tr.Status(frame.Driver) != StatusHealthy {
		t.Error("channel with a producer should be healthy")
	}
	if tr.Status(frame.Front) != StatusIdle {
		t.Error("other channel should stay idle")
	}

	tr.ProducerConnected(frame.Driver)
	tr.ProducerDisconnected(frame.Driver)
	if tr.Status(frame.Driver) != StatusHealthy {
		t.Error("one producer left, should still be healthy")
	}
	tr.ProducerDisconnected(frame.Driver)
	if n := tr.ProducerDisconnected(frame.Driver); n != 0 {
		t.Errorf("producer count went negative: %d", n)
	}
	if tr.Status(frame.Driver) != StatusIdle {
		t.Error("channel without producers should be idle")
	}
}

func TestTrackerTransformFailures(t *testing.T) {
	tr := NewTracker(3)
	tr.ProducerConnected(frame.Front)

	tr.RecordTransform(frame.Front, fmt.Errorf("model unavailable"))
	tr.RecordTransform(frame.Front, fmt.Errorf("model unavailable"))
	if tr.Status(frame.Front) != StatusHealthy {
		t.Error("should be healthy below threshold")
	}

	tr.RecordTransform(frame.Front, fmt.Errorf("deadline exceeded"))
	if tr.Status(frame.Front) != StatusDegraded {
		t.Fatal("should be degraded at threshold")
	}

	snap := tr.Snapshot()
	if snap[0].Channel != frame.Front || snap[0].Failures != 3 || snap[0].LastError != "deadline exceeded" {
		t.Errorf("snapshot[0] = %+v", snap[0])
	}

	tr.RecordTransform(frame.Front, nil)
	if tr.Status(frame.Front) != StatusHealthy {
		t.Error("a success should clear the failure streak")
	}
}

func TestTrackerDegradedWithoutProducer(t *testing.T) {
	tr := NewTracker(1)
	tr.RecordTransform(frame.Front, fmt.Errorf("boom"))
	if tr.Status(frame.Front) != StatusDegraded {
		t.Error("failures should win over idle")
	}
}

func TestTrackerTransition(t *testing.T) {
	tr := NewTracker(2)

	if _, changed := tr.Transition(frame.Driver); changed {
		t.Error("initial idle status should not count as a change")
	}

	tr.ProducerConnected(frame.Driver)
	status, changed := tr.Transition(frame.Driver)
	if status != StatusHealthy || !changed {
		t.Errorf("Transition = %q, %v; want healthy, true", status, changed)
	}
	if _, changed := tr.Transition(frame.Driver); changed {
		t.Error("repeated Transition should not report a change")
	}

	tr.RecordTransform(frame.Driver, fmt.Errorf("x"))
	tr.RecordTransform(frame.Driver, fmt.Errorf("x"))
	status, changed = tr.Transition(frame.Driver)
	if status != StatusDegraded || !changed {
		t.Errorf("Transition = %q, %v; want degraded, true", status, changed)
	}
}

func TestTrackerIgnoresUnknownChannel(t *testing.T) {
	tr := NewTracker(3)
	tr.RecordTransform("rearcam", fmt.Errorf("x"))
	if n := tr.ProducerConnected("rearcam"); n != 0 {
		t.Errorf("ProducerConnected(unknown) = %d, want 0", n)
	}
	if len(tr.Snapshot()) != len(frame.Channels) {
		t.Error("unknown channel leaked into snapshot")
	}
}

func TestSamplerReadsOwnProcess(t *testing.T) {
	s, err := NewSampler()
	if err != nil {
		t.Skipf("process stats unavailable: %v", err)
	}
	stats, err := s.Sample(context.Background())
	if err != nil {
		t.Skipf("process stats unavailable: %v", err)
	}
	if stats.PID != int32(os.Getpid()) {
		t.Errorf("PID = %d, want %d", stats.PID, os.Getpid())
	}
	if stats.RSSBytes == 0 {
		t.Error("RSSBytes = 0")
	}
	if stats.Goroutines == 0 {
		t.Error("Goroutines = 0")
	}
}
