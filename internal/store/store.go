// Package store holds the last known frame of every channel.
package store

import (
	"sync"
	"time"

	"github.com/drivecam/relay/internal/frame"
)

type slot struct {
	mu      sync.RWMutex
	frame   frame.Frame
	present bool
	updates uint64
}

// Store is created with one empty slot per channel. The slot map is never
// mutated after construction so only the per-slot locks are needed.
type Store struct {
	slots map[frame.Channel]*slot
}

func New(channels ...frame.Channel) *Store {
	if len(channels) == 0 {
		channels = frame.Channels
	}
	s := &Store{slots: make(map[frame.Channel]*slot, len(channels))}
	for _, ch := range channels {
		s.slots[ch] = &slot{}
	}
	return s
}

// Set overwrites the channel's frame. Sets on unknown channels are ignored.
func (s *Store) Set(ch frame.Channel, f frame.Frame) {
	sl, ok := s.slots[ch]
	if !ok {
		return
	}
	sl.mu.Lock()
	sl.frame = f
	sl.present = true
	sl.updates++
	sl.mu.Unlock()
}

// Get returns the channel's frame and whether one has ever arrived.
func (s *Store) Get(ch frame.Channel) (frame.Frame, bool) {
	sl, ok := s.slots[ch]
	if !ok {
		return frame.Frame{}, false
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.frame, sl.present
}

type ChannelState struct {
	Channel   frame.Channel `json:"channel"`
	Present   bool          `json:"present"`
	Bytes     int           `json:"bytes"`
	Seq       uint64        `json:"seq"`
	Updates   uint64        `json:"updates"`
	UpdatedAt time.Time     `json:"updated_at,omitempty"`
}

// Snapshot reports every channel in frame.Channels order, followed by any
// extra channels the store was built with.
func (s *Store) Snapshot() []ChannelState {
	result := make([]ChannelState, 0, len(s.slots))
	seen := make(map[frame.Channel]bool, len(s.slots))
	for _, ch := range frame.Channels {
		if _, ok := s.slots[ch]; ok {
			result = append(result, s.state(ch))
			seen[ch] = true
		}
	}
	for ch := range s.slots {
		if !seen[ch] {
			result = append(result, s.state(ch))
		}
	}
	return result
}

func (s *Store) state(ch frame.Channel) ChannelState {
	sl := s.slots[ch]
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	st := ChannelState{Channel: ch, Present: sl.present, Updates: sl.updates}
	if sl.present {
		st.Bytes = sl.frame.Size()
		st.Seq = sl.frame.Seq
		st.UpdatedAt = sl.frame.ReceivedAt
	}
	return st
}
