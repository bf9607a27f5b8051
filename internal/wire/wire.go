// Package wire is the egress event protocol spoken over /ws.
//
// Binary messages carry a frame:
//
//	[1 byte name length][name][4 byte big-endian ack id][payload]
//
// Text messages are JSON Messages used for requests, acks and JSON events.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

type MessageType string

const (
	MsgEvent   MessageType = "event"
	MsgRequest MessageType = "request"
	MsgAck     MessageType = "ack"
)

const EventDrowsy = "drowsy"

const (
	AckSuccess = "success"
	AckError   = "error"
)

const maxEventName = 255

var ErrMalformed = errors.New("wire: malformed envelope")

type Message struct {
	Type    MessageType     `json:"type"`
	Event   string          `json:"event,omitempty"`
	ID      uint32          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (a Ack) OK() bool { return a.Status == AckSuccess }

// Envelope is a decoded binary message.
type Envelope struct {
	Event   string
	ID      uint32
	Payload []byte
}

// EncodeFrame builds a binary envelope. The payload is copied once into
// the result.
func EncodeFrame(event string, id uint32, payload []byte) ([]byte, error) {
	if event == "" || len(event) > maxEventName {
		return nil, fmt.Errorf("wire: event name length %d out of range", len(event))
	}
	buf := make([]byte, 1+len(event)+4+len(payload))
	buf[0] = byte(len(event))
	n := 1 + copy(buf[1:], event)
	binary.BigEndian.PutUint32(buf[n:], id)
	copy(buf[n+4:], payload)
	return buf, nil
}

// DecodeFrame parses a binary envelope. The returned payload aliases msg.
func DecodeFrame(msg []byte) (Envelope, error) {
	if len(msg) < 1 {
		return Envelope{}, ErrMalformed
	}
	n := int(msg[0])
	if n == 0 || len(msg) < 1+n+4 {
		return Envelope{}, ErrMalformed
	}
	return Envelope{
		Event:   string(msg[1 : 1+n]),
		ID:      binary.BigEndian.Uint32(msg[1+n:]),
		Payload: msg[1+n+4:],
	}, nil
}

func EncodeEvent(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s payload: %w", event, err)
	}
	return json.Marshal(Message{Type: MsgEvent, Event: event, Payload: raw})
}

func EncodeRequest(event string, id uint32) ([]byte, error) {
	return json.Marshal(Message{Type: MsgRequest, Event: event, ID: id})
}

func EncodeAck(id uint32, ack Ack) ([]byte, error) {
	raw, err := json.Marshal(ack)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: MsgAck, ID: id, Payload: raw})
}

func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode message: %w", err)
	}
	switch m.Type {
	case MsgEvent, MsgRequest, MsgAck:
	default:
		return Message{}, fmt.Errorf("wire: unknown message type %q", m.Type)
	}
	return m, nil
}

// DecodeAck reads the payload of an ack message.
func (m Message) DecodeAck() (Ack, error) {
	var a Ack
	if m.Type != MsgAck {
		return a, fmt.Errorf("wire: message type %q is not an ack", m.Type)
	}
	if err := json.Unmarshal(m.Payload, &a); err != nil {
		return a, fmt.Errorf("wire: decode ack: %w", err)
	}
	return a, nil
}
