// Package health tracks per-channel producer presence and transform
// failures, and samples the hub's own process usage.
package health

import (
	"sync"
	"time"

	"github.com/drivecam/relay/internal/frame"
)

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusIdle     Status = "idle"
)

// channelHealth counts consecutive transform failures for one channel.
// A single success clears the counter.
type channelHealth struct {
	failures          int
	lastErr           string
	lastFail          time.Time
	producers         int
	lastEmittedStatus Status
}

type Tracker struct {
	mu        sync.Mutex
	threshold int
	channels  map[frame.Channel]*channelHealth
}

// NewTracker returns a tracker that reports a channel degraded after
// threshold consecutive failures. Thresholds below 1 are treated as 1.
func NewTracker(threshold int, channels ...frame.Channel) *Tracker {
	if threshold < 1 {
		threshold = 1
	}
	if len(channels) == 0 {
		channels = frame.Channels
	}
	t := &Tracker{threshold: threshold, channels: make(map[frame.Channel]*channelHealth, len(channels))}
	for _, ch := range channels {
		t.channels[ch] = &channelHealth{lastEmittedStatus: StatusIdle}
	}
	return t
}

// RecordTransform has the shape of transform.FailureFunc: a nil error is a
// success.
func (t *Tracker) RecordTransform(ch frame.Channel, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.channels[ch]
	if !ok {
		return
	}
	if err == nil {
		h.failures = 0
		return
	}
	h.failures++
	h.lastErr = err.Error()
	h.lastFail = time.Now()
}

// ProducerConnected returns the number of producers now attached to ch.
func (t *Tracker) ProducerConnected(ch frame.Channel) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.channels[ch]
	if !ok {
		return 0
	}
	h.producers++
	return h.producers
}

func (t *Tracker) ProducerDisconnected(ch frame.Channel) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.channels[ch]
	if !ok {
		return 0
	}
	if h.producers > 0 {
		h.producers--
	}
	return h.producers
}

func (t *Tracker) Status(ch frame.Channel) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.channels[ch]
	if !ok {
		return StatusIdle
	}
	return t.statusLocked(h)
}

// Transition reports the channel's status and whether it differs from the
// status returned by the previous Transition call.
func (t *Tracker) Transition(ch frame.Channel) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.channels[ch]
	if !ok {
		return StatusIdle, false
	}
	status := t.statusLocked(h)
	changed := status != h.lastEmittedStatus
	h.lastEmittedStatus = status
	return status, changed
}

// statusLocked: caller must hold t.mu.
func (t *Tracker) statusLocked(h *channelHealth) Status {
	if h.failures >= t.threshold {
		return StatusDegraded
	}
	if h.producers == 0 {
		return StatusIdle
	}
	return StatusHealthy
}

type ChannelHealth struct {
	Channel   frame.Channel `json:"channel"`
	Status    Status        `json:"status"`
	Producers int           `json:"producers"`
	Failures  int           `json:"consecutive_failures"`
	LastError string        `json:"last_error,omitempty"`
	LastFail  time.Time     `json:"last_failure,omitempty"`
}

// Snapshot returns a copy of every channel's health in frame.Channels order.
func (t *Tracker) Snapshot() []ChannelHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ChannelHealth, 0, len(t.channels))
	for _, ch := range frame.Channels {
		h, ok := t.channels[ch]
		if !ok {
			continue
		}
		out = append(out, ChannelHealth{
			Channel:   ch,
			Status:    t.statusLocked(h),
			Producers: h.producers,
			Failures:  h.failures,
			LastError: h.lastErr,
			LastFail:  h.lastFail,
		})
	}
	return out
}
