// Package ingress accepts camera producers on one websocket path per
// channel. Every message a producer sends is one frame.
package ingress

import (
	"context"
	"net/http"
	"sync"

	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/health"
	"github.com/drivecam/relay/internal/metrics"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Submitter receives every frame read from a producer.
type Submitter interface {
	Submit(ctx context.Context, ch frame.Channel, f frame.Frame, origin string) error
}

type Options struct {
	Health  *health.Tracker
	Metrics *metrics.Metrics
	Logger  log.FieldLogger
}

type Listener struct {
	submit   Submitter
	health   *health.Tracker
	metrics  *metrics.Metrics
	log      log.FieldLogger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]frame.Channel
}

func New(s Submitter, opts Options) *Listener {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Health == nil {
		opts.Health = health.NewTracker(1)
	}
	return &Listener{
		submit:  s,
		health:  opts.Health,
		metrics: opts.Metrics,
		log:     opts.Logger,
		// Cameras are not browsers; there is no origin to check.
		upgrader: websocket.Upgrader{
			CheckOrigin:    func(*http.Request) bool { return true },
			ReadBufferSize: 64 * 1024,
		},
		conns: make(map[*websocket.Conn]frame.Channel),
	}
}

func (l *Listener) SetupRoutes(mux *http.ServeMux) {
	for _, ch := range frame.Channels {
		mux.HandleFunc(ch.Path(), l.handler(ch))
	}
}

func (l *Listener) handler(ch frame.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.log.WithError(err).WithFields(log.Fields{"channel": ch, "remote": r.RemoteAddr}).Warn("producer upgrade failed")
			return
		}
		l.serve(r.Context(), ch, conn, r.RemoteAddr)
	}
}

// serve reads frames until the producer goes away. There is no read
// deadline and no size limit: a camera may pause for as long as it likes.
func (l *Listener) serve(ctx context.Context, ch frame.Channel, conn *websocket.Conn, remote string) {
	entry := l.log.WithFields(log.Fields{"channel": ch, "remote": remote})

	l.track(conn, ch)
	defer l.untrack(conn, ch)
	entry.Info("producer connected")

	var frames uint64
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				entry.WithError(err).Warn("producer connection failed")
			} else {
				entry.WithField("frames", frames).Info("producer disconnected")
			}
			return
		}
		frames++

		if err := l.submit.Submit(ctx, ch, frame.Wrap(data), ""); err != nil {
			entry.WithError(err).Warn("dropping producer, relay not accepting frames")
			return
		}
		entry.WithField("bytes", len(data)).Trace("frame received")
	}
}

// track and untrack update health before the conns map, so Producers()
// reflecting a change implies the health transition was logged.
func (l *Listener) track(conn *websocket.Conn, ch frame.Channel) {
	l.metrics.SetProducers(ch.String(), l.health.ProducerConnected(ch))
	l.logTransition(ch)
	l.mu.Lock()
	l.conns[conn] = ch
	l.mu.Unlock()
}

func (l *Listener) untrack(conn *websocket.Conn, ch frame.Channel) {
	conn.Close()
	l.metrics.SetProducers(ch.String(), l.health.ProducerDisconnected(ch))
	l.logTransition(ch)
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
}

func (l *Listener) logTransition(ch frame.Channel) {
	if status, changed := l.health.Transition(ch); changed {
		l.log.WithFields(log.Fields{"channel": ch, "status": status}).Info("channel health changed")
	}
}

// Producers returns the number of open producer connections per channel.
func (l *Listener) Producers() map[frame.Channel]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[frame.Channel]int, len(frame.Channels))
	for _, ch := range l.conns {
		out[ch]++
	}
	return out
}

// Close drops every producer connection. http.Server.Shutdown does not
// touch hijacked connections, so this is called alongside it.
func (l *Listener) Close() {
	l.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
