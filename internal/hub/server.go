package hub

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/wire"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

type ServerOptions struct {
	AllowedOrigins []string
	// Status and Metrics are mounted at /api/status and /metrics when set.
	Status  http.Handler
	Metrics http.Handler
}

// Server exposes the hub on the egress websocket endpoint.
type Server struct {
	hub            *Hub
	status         http.Handler
	metrics        http.Handler
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	upgrader       websocket.Upgrader
	log            log.FieldLogger
}

func NewServer(h *Hub, opts ServerOptions) *Server {
	s := &Server{
		hub:            h,
		status:         opts.Status,
		metrics:        opts.Metrics,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            h.log,
	}
	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 64 * 1024,
	}
	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	if s.status != nil {
		mux.Handle("/api/status", s.status)
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).WithField("remote", r.RemoteAddr).Warn("ws upgrade failed")
		return
	}

	sess, err := s.hub.AddSession(conn, r.RemoteAddr)
	if err != nil {
		s.log.WithError(err).WithField("remote", r.RemoteAddr).Warn("consumer rejected")
		code := websocket.CloseTryAgainLater
		if !errors.Is(err, ErrTooManyConnections) {
			code = websocket.CloseGoingAway
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()))
		conn.Close()
		return
	}
	defer s.hub.RemoveSession(sess)

	ctx := r.Context()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			s.handlePush(r, sess, data)
		case websocket.TextMessage:
			s.handleText(sess, data)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) handlePush(r *http.Request, sess *Session, data []byte) {
	env, err := wire.DecodeFrame(data)
	if err != nil {
		s.log.WithError(err).WithField("session", sess.id).Debug("dropping malformed push")
		return
	}
	ch, err := frame.Parse(env.Event)
	if err != nil {
		s.hub.sendAck(sess, env.ID, wire.Ack{Status: wire.AckError, Message: err.Error()})
		return
	}
	s.log.WithFields(log.Fields{"session": sess.id, "channel": ch, "bytes": len(env.Payload)}).Debug("frame pushed by consumer")
	s.hub.Pushed(r.Context(), sess, ch, env.Payload, env.ID)
}

func (s *Server) handleText(sess *Session, data []byte) {
	msg, err := wire.DecodeMessage(data)
	if err != nil {
		s.log.WithError(err).WithField("session", sess.id).Debug("dropping malformed message")
		return
	}
	if msg.Type != wire.MsgRequest {
		return
	}
	ch, err := frame.Parse(msg.Event)
	if err != nil {
		s.hub.sendAck(sess, msg.ID, wire.Ack{Status: wire.AckError, Message: err.Error()})
		return
	}
	s.hub.Respond(sess, ch, msg.ID)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()
	return parsed.Host == r.Host || host == "localhost" || host == "127.0.0.1" || host == "::1"
}
