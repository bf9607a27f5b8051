package mock

import (
	"context"
	"time"
)

// Classifier stands in for the drowsiness model: it answers Non-Drowsy at
// 0.95 and, during the first second of every ten, Drowsy at 0.97.
type Classifier struct {
	now func() time.Time
}

func NewClassifier() *Classifier {
	return &Classifier{now: time.Now}
}

func (c *Classifier) Classify(ctx context.Context, _ []byte) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.now().Unix()%10 == 0 {
		return []float64{0.97, 0.03}, nil
	}
	return []float64{0.05, 0.95}, nil
}
