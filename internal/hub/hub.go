// Package hub is the consumer side of the relay: it tracks sessions on the
// egress websocket and fans frames and events out to them.
package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/metrics"
	"github.com/drivecam/relay/internal/wire"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var ErrTooManyConnections = errors.New("hub: too many connections")

// FrameSource is the read side of the channel store.
type FrameSource interface {
	Get(ch frame.Channel) (frame.Frame, bool)
}

// PushFunc hands a consumer-pushed frame to the relay pipeline. origin is
// the pushing session's id.
type PushFunc func(ctx context.Context, ch frame.Channel, f frame.Frame, origin string) error

type Options struct {
	// MaxSessions of 0 means unlimited.
	MaxSessions int
	SendBuffer  int
	Metrics     *metrics.Metrics
	Logger      log.FieldLogger
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]bool
	closed   bool

	frames      FrameSource
	push        PushFunc
	maxSessions int
	sendBuffer  int
	metrics     *metrics.Metrics
	log         log.FieldLogger
}

func New(frames FrameSource, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 16
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Hub{
		sessions:    make(map[*Session]bool),
		frames:      frames,
		maxSessions: opts.MaxSessions,
		sendBuffer:  opts.SendBuffer,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}
}

// SetPushHandler installs the handler for frames pushed by consumers. Must
// be called before the server starts accepting sessions.
func (h *Hub) SetPushHandler(fn PushFunc) {
	h.push = fn
}

// AddSession registers conn and queues one catch-up frame per channel that
// already has a value. Catch-up is targeted at the new session only.
func (h *Hub) AddSession(conn *websocket.Conn, remote string) (*Session, error) {
	s := newSession(h, conn, remote, h.sendBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if h.maxSessions > 0 && len(h.sessions) >= h.maxSessions {
		h.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	h.sessions[s] = true
	count := len(h.sessions)
	h.mu.Unlock()

	h.metrics.SetSessions(count)
	go s.writePump()

	for _, ch := range frame.Channels {
		f, ok := h.frames.Get(ch)
		if !ok {
			continue
		}
		if err := h.sendFrame(s, ch, f, 0); err != nil {
			break
		}
	}

	h.log.WithFields(log.Fields{"session": s.id, "remote": remote, "sessions": count}).Info("consumer connected")
	return s, nil
}

func (h *Hub) RemoveSession(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	if ok {
		delete(h.sessions, s)
		s.close()
	}
	count := len(h.sessions)
	h.mu.Unlock()

	if ok {
		h.metrics.SetSessions(count)
		h.log.WithFields(log.Fields{"session": s.id, "remote": s.remote, "sessions": count}).Info("consumer disconnected")
	}
}

// Broadcast sends f on event ch to every session except the one whose id is
// exclude. It returns the number of sessions the frame was queued for.
func (h *Hub) Broadcast(ch frame.Channel, f frame.Frame, exclude string) int {
	data, err := wire.EncodeFrame(ch.String(), 0, f.Bytes())
	if err != nil {
		h.log.WithError(err).WithField("channel", ch).Error("broadcast encode failed")
		return 0
	}
	h.metrics.Broadcast(ch.String())
	m := outbound{kind: websocket.BinaryMessage, data: data}
	return h.fanOut(exclude, func(s *Session) (bool, error) {
		return h.deliverFrame(s, ch, f.Seq, m)
	})
}

// Emit sends a JSON event to every session.
func (h *Hub) Emit(event string, payload any) error {
	data, err := wire.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	m := outbound{kind: websocket.TextMessage, data: data}
	h.fanOut("", func(s *Session) (bool, error) {
		err := h.deliver(s, m)
		return err == nil, err
	})
	return nil
}

func (h *Hub) fanOut(exclude string, send func(*Session) (bool, error)) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		if exclude != "" && s.id == exclude {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if queued, _ := send(s); queued {
			sent++
		}
	}
	return sent
}

// deliver queues m for s. A session whose queue is full is disconnected;
// a session that is already gone is skipped silently.
func (h *Hub) deliver(s *Session, m outbound) error {
	return h.checkDelivery(s, s.enqueue(m))
}

// deliverFrame is deliver for frames. A frame older than one already queued
// to s on the same channel is skipped, so a targeted send that raced a
// broadcast never leaves s on a stale frame.
func (h *Hub) deliverFrame(s *Session, ch frame.Channel, seq uint64, m outbound) (bool, error) {
	queued, err := s.enqueueFrame(ch, seq, m)
	return queued, h.checkDelivery(s, err)
}

func (h *Hub) checkDelivery(s *Session, err error) error {
	if errors.Is(err, errSessionSlow) {
		h.metrics.SendDropped()
		h.log.WithField("session", s.id).Warn("consumer too slow, disconnecting")
		h.RemoveSession(s)
	}
	return err
}

func (h *Hub) sendFrame(s *Session, ch frame.Channel, f frame.Frame, id uint32) error {
	data, err := wire.EncodeFrame(ch.String(), id, f.Bytes())
	if err != nil {
		return err
	}
	_, err = h.deliverFrame(s, ch, f.Seq, outbound{kind: websocket.BinaryMessage, data: data})
	return err
}

func (h *Hub) sendAck(s *Session, id uint32, ack wire.Ack) error {
	if id == 0 {
		return nil
	}
	data, err := wire.EncodeAck(id, ack)
	if err != nil {
		return err
	}
	return h.deliver(s, outbound{kind: websocket.TextMessage, data: data})
}

// Respond answers an on-demand request for ch. When a frame is present it is
// sent to s alone, followed by a success ack; otherwise only an error ack is
// sent. The returned Ack is what the session was told.
func (h *Hub) Respond(s *Session, ch frame.Channel, id uint32) wire.Ack {
	f, ok := h.frames.Get(ch)
	if !ok {
		ack := wire.Ack{Status: wire.AckError, Message: fmt.Sprintf("No %s image available", lowerFirst(ch.Label()))}
		h.sendAck(s, id, ack)
		h.log.WithFields(log.Fields{"session": s.id, "channel": ch}).Info("requested frame not available")
		return ack
	}

	if err := h.sendFrame(s, ch, f, 0); err != nil {
		ack := wire.Ack{Status: wire.AckError, Message: err.Error()}
		h.sendAck(s, id, ack)
		return ack
	}
	ack := wire.Ack{Status: wire.AckSuccess, Message: ch.Label() + " image sent"}
	h.sendAck(s, id, ack)
	h.log.WithFields(log.Fields{"session": s.id, "channel": ch, "bytes": f.Size()}).Info("sent requested frame")
	return ack
}

// Pushed handles a frame a consumer sent on a channel event. The frame is
// relayed to everyone but s and the push is acknowledged when id is set.
func (h *Hub) Pushed(ctx context.Context, s *Session, ch frame.Channel, payload []byte, id uint32) wire.Ack {
	var ack wire.Ack
	switch {
	case h.push == nil:
		ack = wire.Ack{Status: wire.AckError, Message: "pushes are not accepted"}
	default:
		f := frame.New(payload)
		if err := h.push(ctx, ch, f, s.id); err != nil {
			ack = wire.Ack{Status: wire.AckError, Message: err.Error()}
		} else {
			ack = wire.Ack{Status: wire.AckSuccess, Message: ch.Label() + " image received"}
		}
	}
	h.sendAck(s, id, ack)
	return ack
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

type SessionInfo struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	Queued      int       `json:"queued"`
}

func (h *Hub) Sessions() []SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for s := range h.sessions {
		out = append(out, SessionInfo{ID: s.id, Remote: s.remote, ConnectedAt: s.connectedAt, Queued: len(s.send)})
	}
	return out
}

// Close disconnects every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[*Session]bool)
	h.mu.Unlock()

	for s := range sessions {
		s.close()
	}
	h.metrics.SetSessions(0)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
