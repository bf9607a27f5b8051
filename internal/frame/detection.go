package frame

import "time"

const (
	ClassDrowsy    = "Drowsy"
	ClassNonDrowsy = "Non-Drowsy"
)

// DetectionResult is the classifier's verdict for one driver frame. It is
// never stored; it goes to consumers and the MQTT sink and is dropped.
type DetectionResult struct {
	Result      string  `json:"result"`
	ClassIndex  int     `json:"class_index"`
	Probability float64 `json:"probability"`
	Timestamp   float64 `json:"timestamp"`
}

// NewDetectionResult picks the highest scoring class. Index 0 is Drowsy,
// every other index is Non-Drowsy. It returns false for an empty score list.
func NewDetectionResult(scores []float64, at time.Time) (DetectionResult, bool) {
	if len(scores) == 0 {
		return DetectionResult{}, false
	}

	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}

	label := ClassNonDrowsy
	if best == 0 {
		label = ClassDrowsy
	}

	p := scores[best]
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	return DetectionResult{
		Result:      label,
		ClassIndex:  best,
		Probability: p,
		Timestamp:   float64(at.UnixNano()) / 1e9,
	}, true
}
