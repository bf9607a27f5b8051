// Package transform holds the per-channel steps run on a frame before it is
// stored and broadcast.
package transform

import (
	"context"

	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/inference"
)

// Transformer rewrites a frame and may derive a side result from it. It
// never fails: on error it returns the input frame and a nil result.
type Transformer interface {
	Apply(ctx context.Context, ch frame.Channel, f frame.Frame) (frame.Frame, *frame.DetectionResult)
}

// ObjectDetector is the external object detection model.
type ObjectDetector interface {
	Detect(ctx context.Context, image []byte) ([]inference.Object, error)
}

// DrowsinessClassifier is the external driver-state model.
type DrowsinessClassifier interface {
	Classify(ctx context.Context, image []byte) ([]float64, error)
}

// FailureFunc is told about every recovered transform failure. A nil error
// reports a success, which lets health tracking reset its counters.
type FailureFunc func(ch frame.Channel, err error)

type Passthrough struct{}

func (Passthrough) Apply(_ context.Context, _ frame.Channel, f frame.Frame) (frame.Frame, *frame.DetectionResult) {
	return f, nil
}

func report(fn FailureFunc, ch frame.Channel, err error) {
	if fn != nil {
		fn(ch, err)
	}
}
