// Package sink forwards detection results to the MQTT side channel.
package sink

import (
	"github.com/drivecam/relay/internal/frame"
)

// Sink publishes results without waiting for delivery. Implementations
// never block the caller and never retry a failed message.
type Sink interface {
	Publish(topic string, result frame.DetectionResult)
	Status() Status
	Close()
}

type Status struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Nop discards every result. Used when no broker is configured or none
// could be reached at startup.
type Nop struct{}

func (Nop) Publish(string, frame.DetectionResult) {}

func (Nop) Status() Status { return Status{} }

func (Nop) Close() {}
