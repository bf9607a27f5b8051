package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/health"
	"github.com/drivecam/relay/internal/inference"
	"github.com/drivecam/relay/internal/logging"
	"github.com/drivecam/relay/internal/metrics"
	"github.com/drivecam/relay/internal/sink"
	"github.com/drivecam/relay/internal/store"
	"github.com/drivecam/relay/internal/transform"
	"github.com/drivecam/relay/internal/wire"
)

type broadcast struct {
	ch      frame.Channel
	data    []byte
	seq     uint64
	exclude string
	stored  bool
}

type event struct {
	name    string
	payload any
}

// recorder checks that the store already holds each frame when it is
// broadcast.
type recorder struct {
	mu         sync.Mutex
	store      *store.Store
	broadcasts []broadcast
	events     []event
}

func (r *recorder) Broadcast(ch frame.Channel, f frame.Frame, exclude string) int {
	cur, ok := r.store.Get(ch)
	stored := ok && cur.Seq == f.Seq && bytes.Equal(cur.Bytes(), f.Bytes())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, broadcast{ch: ch, data: f.Bytes(), seq: f.Seq, exclude: exclude, stored: stored})
	return 1
}

func (r *recorder) Emit(name string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{name: name, payload: payload})
	return nil
}

func (r *recorder) snapshot() ([]broadcast, []event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast(nil), r.broadcasts...), append([]event(nil), r.events...)
}

type fakeSink struct {
	sink.Nop
	mu      sync.Mutex
	topics  []string
	results []frame.DetectionResult
}

func (s *fakeSink) Publish(topic string, r frame.DetectionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
	s.results = append(s.results, r)
}

type transformFunc func(ctx context.Context, ch frame.Channel, f frame.Frame) (frame.Frame, *frame.DetectionResult)

func (fn transformFunc) Apply(ctx context.Context, ch frame.Channel, f frame.Frame) (frame.Frame, *frame.DetectionResult) {
	return fn(ctx, ch, f)
}

func startPipeline(t *testing.T, transforms map[frame.Channel]transform.Transformer, opts Options) (*Pipeline, *store.Store, *recorder, *fakeSink) {
	t.Helper()
	st := store.New()
	rec := &recorder{store: st}
	sk := &fakeSink{}
	opts.Logger = logging.Discard()
	p := New(st, rec, sk, transforms, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("pipeline did not stop")
		}
	})
	return p, st, rec, sk
}

func waitForBroadcasts(t *testing.T, rec *recorder, n int) []broadcast {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b, _ := rec.snapshot(); len(b) >= n {
			return b
		}
		time.Sleep(5 * time.Millisecond)
	}
	b, _ := rec.snapshot()
	t.Fatalf("got %d broadcasts, want %d", len(b), n)
	return nil
}

func TestFramesRelayedInOrder(t *testing.T) {
	p, st, rec, _ := startPipeline(t, nil, Options{QueueDepth: 2})

	for i := byte(1); i <= 5; i++ {
		if err := p.Submit(context.Background(), frame.Front, frame.New([]byte{i}), ""); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}

	got := waitForBroadcasts(t, rec, 5)
	for i, b := range got {
		if b.ch != frame.Front || b.data[0] != byte(i+1) || b.seq != uint64(i+1) {
			t.Errorf("broadcast[%d] = %+v", i, b)
		}
		if !b.stored {
			t.Errorf("broadcast[%d] happened before the store update", i)
		}
	}

	f, ok := st.Get(frame.Front)
	if !ok || !bytes.Equal(f.Bytes(), []byte{5}) {
		t.Errorf("store holds %v, want last frame [5]", f.Bytes())
	}
	if _, ok := st.Get(frame.Driver); ok {
		t.Error("driver channel should still be absent")
	}
}

func TestOriginIsExcluded(t *testing.T) {
	p, _, rec, _ := startPipeline(t, nil, Options{})

	p.Submit(context.Background(), frame.Driver, frame.New([]byte{1, 2, 3}), "session-a")
	got := waitForBroadcasts(t, rec, 1)
	if got[0].exclude != "session-a" {
		t.Errorf("exclude = %q, want session-a", got[0].exclude)
	}
}

func TestTransformOutputIsStoredAndBroadcast(t *testing.T) {
	rewrite := transformFunc(func(_ context.Context, _ frame.Channel, f frame.Frame) (frame.Frame, *frame.DetectionResult) {
		return f.WithData(append([]byte("boxed:"), f.Bytes()...)), nil
	})
	p, st, rec, _ := startPipeline(t, map[frame.Channel]transform.Transformer{frame.Front: rewrite}, Options{})

	p.Submit(context.Background(), frame.Front, frame.New([]byte("img")), "")
	got := waitForBroadcasts(t, rec, 1)
	if string(got[0].data) != "boxed:img" {
		t.Errorf("broadcast %q, want boxed:img", got[0].data)
	}
	if f, _ := st.Get(frame.Front); string(f.Bytes()) != "boxed:img" {
		t.Errorf("stored %q, want boxed:img", f.Bytes())
	}
}

func TestDetectionResultEmittedAndPublished(t *testing.T) {
	classify := transformFunc(func(_ context.Context, _ frame.Channel, f frame.Frame) (frame.Frame, *frame.DetectionResult) {
		return f, &frame.DetectionResult{Result: frame.ClassDrowsy, ClassIndex: 0, Probability: 0.93}
	})
	p, _, rec, sk := startPipeline(t, map[frame.Channel]transform.Transformer{frame.Driver: classify}, Options{Topic: "/drowsy"})

	p.Submit(context.Background(), frame.Driver, frame.New([]byte{1}), "")
	waitForBroadcasts(t, rec, 1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sk.mu.Lock()
		n := len(sk.results)
		sk.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, events := rec.snapshot()
	if len(events) != 1 || events[0].name != wire.EventDrowsy {
		t.Fatalf("events = %+v, want one drowsy event", events)
	}
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if len(sk.results) != 1 || sk.topics[0] != "/drowsy" || sk.results[0].Probability != 0.93 {
		t.Errorf("sink got %v on %v", sk.results, sk.topics)
	}
}

func TestNoResultNoEmit(t *testing.T) {
	p, _, rec, sk := startPipeline(t, nil, Options{})
	p.Submit(context.Background(), frame.Driver, frame.New([]byte{1}), "")
	waitForBroadcasts(t, rec, 1)

	_, events := rec.snapshot()
	if len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if len(sk.results) != 0 {
		t.Errorf("sink got %v, want nothing", sk.results)
	}
}

func TestTransformTimeoutReachesTransform(t *testing.T) {
	sawDeadline := make(chan bool, 1)
	tr := transformFunc(func(ctx context.Context, _ frame.Channel, f frame.Frame) (frame.Frame, *frame.DetectionResult) {
		_, ok := ctx.Deadline()
		sawDeadline <- ok
		return f, nil
	})
	p, _, _, _ := startPipeline(t, map[frame.Channel]transform.Transformer{frame.Front: tr}, Options{TransformTimeout: time.Second})

	p.Submit(context.Background(), frame.Front, frame.New([]byte{1}), "")
	select {
	case ok := <-sawDeadline:
		if !ok {
			t.Error("transform context has no deadline")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transform not called")
	}
}

// A stalled channel pushes back on its own producers only.
func TestBackpressureIsPerChannel(t *testing.T) {
	release := make(chan struct{})
	stall := transformFunc(func(_ context.Context, _ frame.Channel, f frame.Frame) (frame.Frame, *frame.DetectionResult) {
		<-release
		return f, nil
	})
	p, _, rec, _ := startPipeline(t, map[frame.Channel]transform.Transformer{frame.Front: stall}, Options{QueueDepth: 1})
	defer close(release)

	// One frame in the worker, one in the queue.
	p.Submit(context.Background(), frame.Front, frame.New([]byte{1}), "")
	p.Submit(context.Background(), frame.Front, frame.New([]byte{2}), "")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var err error
	for err == nil {
		err = p.Submit(ctx, frame.Front, frame.New([]byte{3}), "")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit on a full queue = %v, want DeadlineExceeded", err)
	}

	if err := p.Submit(context.Background(), frame.Driver, frame.New([]byte{9}), ""); err != nil {
		t.Fatalf("Submit(driver) = %v", err)
	}
	got := waitForBroadcasts(t, rec, 1)
	if got[0].ch != frame.Driver {
		t.Errorf("first broadcast on %s, want drivercam", got[0].ch)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	st := store.New()
	p := New(st, &recorder{store: st}, nil, nil, Options{Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	if err := p.Submit(context.Background(), frame.Front, frame.New([]byte{1}), ""); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit after stop = %v, want ErrStopped", err)
	}
}

func TestSubmitUnknownChannel(t *testing.T) {
	p, _, _, _ := startPipeline(t, nil, Options{})
	if err := p.Submit(context.Background(), "rearcam", frame.New(nil), ""); err == nil {
		t.Error("Submit on an unknown channel should fail")
	}
}

type failingDetector struct{}

func (failingDetector) Detect(context.Context, []byte) ([]inference.Object, error) {
	return nil, inference.ErrModelUnavailable
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, []byte) ([]float64, error) {
	return nil, inference.ErrModelUnavailable
}

func TestFailingTransformsRelayOriginalBytes(t *testing.T) {
	tracker := health.NewTracker(2)
	transforms := map[frame.Channel]transform.Transformer{
		frame.Front:  transform.NewOverlay(failingDetector{}, 0.5, logging.Discard(), tracker.RecordTransform),
		frame.Driver: transform.NewClassifier(failingClassifier{}, logging.Discard(), tracker.RecordTransform),
	}
	p, st, rec, sk := startPipeline(t, transforms, Options{Health: tracker})

	inputs := map[frame.Channel][][]byte{
		frame.Front:  {{0xff, 0xd8, 0x01}, {0xff, 0xd8, 0x02}, {0xff, 0xd8, 0x03}},
		frame.Driver: {{0xff, 0xd8, 0x11}, {0xff, 0xd8, 0x12}, {0xff, 0xd8, 0x13}},
	}
	for ch, frames := range inputs {
		for _, data := range frames {
			if err := p.Submit(context.Background(), ch, frame.New(data), ""); err != nil {
				t.Fatalf("Submit(%s): %v", ch, err)
			}
		}
	}

	got := waitForBroadcasts(t, rec, 6)
	next := map[frame.Channel]int{}
	for _, b := range got {
		want := inputs[b.ch][next[b.ch]]
		next[b.ch]++
		if !bytes.Equal(b.data, want) {
			t.Errorf("%s broadcast %x, want original %x", b.ch, b.data, want)
		}
		if !b.stored {
			t.Errorf("%s seq %d broadcast before it was stored", b.ch, b.seq)
		}
	}
	for ch, frames := range inputs {
		cur, ok := st.Get(ch)
		if !ok || !bytes.Equal(cur.Bytes(), frames[len(frames)-1]) {
			t.Errorf("%s stored %x, want %x", ch, cur.Bytes(), frames[len(frames)-1])
		}
		if s := tracker.Status(ch); s != health.StatusDegraded {
			t.Errorf("%s status = %s, want degraded", ch, s)
		}
	}

	_, events := rec.snapshot()
	if len(events) != 0 {
		t.Errorf("got %d events, want none", len(events))
	}
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if len(sk.results) != 0 {
		t.Errorf("published %d results, want none", len(sk.results))
	}
}

func TestFrameReceivedCountsOnlyQueuedFrames(t *testing.T) {
	m := metrics.New()
	st := store.New()
	p := New(st, &recorder{store: st}, nil, nil, Options{QueueDepth: 1, Metrics: m, Logger: logging.Discard()})

	if err := p.Submit(context.Background(), frame.Front, frame.New([]byte{1}), ""); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	// The queue is full and nothing drains it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Submit(ctx, frame.Front, frame.New([]byte{2}), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit on a full queue = %v, want context.Canceled", err)
	}

	p.Run(ctx)
	if err := p.Submit(context.Background(), frame.Front, frame.New([]byte{3}), ""); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after stop = %v, want ErrStopped", err)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatal(err)
	}
	if want := `relay_frames_received_total{channel="frontcam"} 1`; !strings.Contains(string(body), want) {
		t.Errorf("metrics missing %q:\n%s", want, body)
	}
}
