package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/drivecam/relay/internal/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var (
	ErrSessionClosed = errors.New("hub: session closed")
	errSessionSlow   = errors.New("hub: session send queue full")
)

type outbound struct {
	kind int
	data []byte
}

// Session is one consumer connection. Everything written to it goes through
// send and is drained by writePump, so a stalled socket only fills its own
// queue.
type Session struct {
	id          string
	remote      string
	connectedAt time.Time
	conn        *websocket.Conn
	hub         *Hub
	send        chan outbound
	done        chan struct{}
	closeOnce   sync.Once

	// frameMu orders frame enqueues so lastSeq matches queue order.
	frameMu sync.Mutex
	lastSeq map[frame.Channel]uint64
}

func newSession(h *Hub, conn *websocket.Conn, remote string, buffer int) *Session {
	return &Session{
		id:          uuid.NewString(),
		remote:      remote,
		connectedAt: time.Now(),
		conn:        conn,
		hub:         h,
		send:        make(chan outbound, buffer),
		done:        make(chan struct{}),
		lastSeq:     make(map[frame.Channel]uint64),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Remote() string { return s.remote }

// Done is closed once the session has been removed from the hub.
func (s *Session) Done() <-chan struct{} { return s.done }

// enqueue never blocks. It fails with ErrSessionClosed after close and with
// errSessionSlow when the queue is full.
func (s *Session) enqueue(m outbound) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return errSessionSlow
	}
}

// enqueueFrame queues a frame for ch unless a newer one has already been
// queued on this session. Unsequenced frames (seq 0) are always queued. It
// reports whether m was queued.
func (s *Session) enqueueFrame(ch frame.Channel, seq uint64, m outbound) (bool, error) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	if seq != 0 && seq < s.lastSeq[ch] {
		return false, nil
	}
	if err := s.enqueue(m); err != nil {
		return false, err
	}
	if seq > s.lastSeq[ch] {
		s.lastSeq[ch] = seq
	}
	return true, nil
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case m := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(m.kind, m.data); err != nil {
				s.hub.log.WithError(err).WithField("session", s.id).Debug("session write failed")
				s.hub.RemoveSession(s)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.hub.RemoveSession(s)
				return
			}
		case <-s.done:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
