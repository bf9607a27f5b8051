// Package frame defines the relay's channel identities, the immutable frame
// payload, and the classification record derived from driver frames.
package frame

import (
	"fmt"
	"strings"
	"time"
)

type Channel string

const (
	Front  Channel = "frontcam"
	Driver Channel = "drivercam"
)

// Channels lists every channel in a fixed order.
var Channels = []Channel{Front, Driver}

// Parse accepts either an event name ("drivercam") or an ingress path
// ("/drivercam").
func Parse(s string) (Channel, error) {
	name := strings.Trim(strings.TrimSpace(s), "/")
	for _, ch := range Channels {
		if string(ch) == name {
			return ch, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

func (c Channel) String() string { return string(c) }

// Path is the ingress path a producer connects to.
func (c Channel) Path() string { return "/" + string(c) }

// Label is the human readable name used in acknowledgments.
func (c Channel) Label() string {
	switch c {
	case Front:
		return "Front camera"
	case Driver:
		return "Driver camera"
	default:
		return string(c)
	}
}

// Frame is an opaque image payload. The bytes must not be modified after
// construction; New copies its input so the caller keeps ownership of theirs.
type Frame struct {
	data       []byte
	Seq        uint64
	ReceivedAt time.Time
}

func New(data []byte) Frame {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Frame{data: buf, ReceivedAt: time.Now()}
}

// Wrap adopts data without copying. Only for buffers nobody else retains,
// such as a message just read off a websocket.
func Wrap(data []byte) Frame {
	return Frame{data: data, ReceivedAt: time.Now()}
}

func (f Frame) Bytes() []byte { return f.data }

func (f Frame) Size() int { return len(f.data) }

// WithData returns a frame carrying new bytes and the same sequence and
// receive time, used by transforms that rewrite the image.
func (f Frame) WithData(data []byte) Frame {
	return Frame{data: data, Seq: f.Seq, ReceivedAt: f.ReceivedAt}
}
