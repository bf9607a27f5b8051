package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/drivecam/relay/internal/frame"
	log "github.com/sirupsen/logrus"
)

// Classifier leaves the frame untouched and attaches a DetectionResult when
// the model answers.
type Classifier struct {
	model     DrowsinessClassifier
	log       log.FieldLogger
	onFailure FailureFunc
	now       func() time.Time
}

func NewClassifier(model DrowsinessClassifier, logger log.FieldLogger, onFailure FailureFunc) *Classifier {
	return &Classifier{model: model, log: logger, onFailure: onFailure, now: time.Now}
}

func (c *Classifier) Apply(ctx context.Context, ch frame.Channel, f frame.Frame) (frame.Frame, *frame.DetectionResult) {
	scores, err := c.model.Classify(ctx, f.Bytes())
	if err != nil {
		c.log.WithError(err).WithField("channel", ch).Warn("classification failed")
		report(c.onFailure, ch, err)
		return f, nil
	}

	result, ok := frame.NewDetectionResult(scores, c.now())
	if !ok {
		err := fmt.Errorf("classifier returned no scores")
		c.log.WithField("channel", ch).Warn(err.Error())
		report(c.onFailure, ch, err)
		return f, nil
	}

	report(c.onFailure, ch, nil)
	c.log.WithFields(log.Fields{
		"channel":     ch,
		"result":      result.Result,
		"probability": fmt.Sprintf("%.2f%%", result.Probability*100),
	}).Debug("drowsiness classified")
	return f, &result
}
