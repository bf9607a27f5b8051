// Package client is a consumer of the hub's /ws endpoint. Incoming traffic
// is surfaced as Bubble Tea messages so the relay monitor can drive it
// directly.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/wire"
	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

var ErrNotConnected = errors.New("client: not connected")

// ConnectedMsg is sent when the websocket connects.
type ConnectedMsg struct{ URL string }

// DisconnectedMsg is sent when the connection drops.
type DisconnectedMsg struct{ Err error }

// FrameMsg carries one frame received on a channel event.
type FrameMsg struct {
	Channel frame.Channel
	Data    []byte
	At      time.Time
}

// DrowsyMsg carries a classification result.
type DrowsyMsg struct{ Result frame.DetectionResult }

// AckMsg answers a Request or Push with the same id.
type AckMsg struct {
	ID  uint32
	Ack wire.Ack
}

type Client struct {
	url string

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	nextID  uint32
	pingCtx context.CancelFunc
}

func New(url string) *Client {
	return &Client{url: url}
}

func (c *Client) URL() string { return c.url }

// Connect makes a single connection attempt.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.url, err)
	}
	c.adopt(ctx, conn)
	return nil
}

// Listen returns a command that connects, retrying with exponential backoff
// until ctx is done.
func (c *Client) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			err := c.Connect(ctx)
			if err == nil {
				return ConnectedMsg{URL: c.url}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
		}
	}
}

func (c *Client) adopt(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	if c.pingCtx != nil {
		c.pingCtx()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	pingCtx, cancel := context.WithCancel(ctx)
	c.conn = conn
	c.pingCtx = cancel
	c.mu.Unlock()

	go c.pingLoop(pingCtx, conn)
}

// ReadLoop returns a command that reads until one message worth reporting
// arrives. It should be re-issued after every message it returns.
func (c *Client) ReadLoop() tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: ErrNotConnected}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return DisconnectedMsg{Err: err}
			}
			if msg := dispatch(kind, data); msg != nil {
				return msg
			}
		}
	}
}

func dispatch(kind int, data []byte) tea.Msg {
	switch kind {
	case websocket.BinaryMessage:
		env, err := wire.DecodeFrame(data)
		if err != nil {
			return nil
		}
		ch, err := frame.Parse(env.Event)
		if err != nil {
			return nil
		}
		return FrameMsg{Channel: ch, Data: env.Payload, At: time.Now()}
	case websocket.TextMessage:
		msg, err := wire.DecodeMessage(data)
		if err != nil {
			return nil
		}
		switch msg.Type {
		case wire.MsgAck:
			ack, err := msg.DecodeAck()
			if err != nil {
				return nil
			}
			return AckMsg{ID: msg.ID, Ack: ack}
		case wire.MsgEvent:
			if msg.Event == wire.EventDrowsy {
				var r frame.DetectionResult
				if json.Unmarshal(msg.Payload, &r) == nil {
					return DrowsyMsg{Result: r}
				}
			}
		}
	}
	return nil
}

// Request asks the hub for the latest frame of ch. The frame and the ack
// arrive through ReadLoop; the returned id matches the AckMsg.
func (c *Client) Request(ch frame.Channel) (uint32, error) {
	id := c.allocID()
	data, err := wire.EncodeRequest(ch.String(), id)
	if err != nil {
		return 0, err
	}
	return id, c.write(websocket.TextMessage, data)
}

// Push sends a frame on ch as if this consumer were a camera. The hub
// relays it to every other consumer.
func (c *Client) Push(ch frame.Channel, payload []byte) (uint32, error) {
	id := c.allocID()
	data, err := wire.EncodeFrame(ch.String(), id, payload)
	if err != nil {
		return 0, err
	}
	return id, c.write(websocket.BinaryMessage, data)
}

func (c *Client) allocID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.nextID == 0 {
		c.nextID = 1
	}
	return c.nextID
}

func (c *Client) write(kind int, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(kind, data)
}

// pingLoop exits when ctx is cancelled or the connection is replaced.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.pingCtx != nil {
		c.pingCtx()
		c.pingCtx = nil
	}
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}
