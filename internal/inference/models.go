package inference

import (
	"context"
	"fmt"
)

// Object is one detection returned by the object detector. Box is
// [x, y, w, h] in pixels of the submitted image.
type Object struct {
	Label string
	Score float64
	Box   [4]float64
}

// Detector runs object detection on a JPEG frame.
type Detector struct {
	client *Client
}

func NewDetector(c *Client) *Detector {
	return &Detector{client: c}
}

func (d *Detector) Detect(ctx context.Context, image []byte) ([]Object, error) {
	resp, err := d.client.invoke(ctx, MethodDetect, image)
	if err != nil {
		return nil, err
	}

	list := resp.GetFields()["objects"].GetListValue()
	if list == nil {
		return nil, nil
	}

	objects := make([]Object, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("inference: objects[%d] is not a struct", i)
		}
		obj := Object{
			Label: fields["label"].GetStringValue(),
			Score: fields["score"].GetNumberValue(),
		}
		box := fields["box"].GetListValue().GetValues()
		if len(box) != 4 {
			return nil, fmt.Errorf("inference: objects[%d] box has %d values, want 4", i, len(box))
		}
		for j := range obj.Box {
			obj.Box[j] = box[j].GetNumberValue()
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// Classifier returns per-class probabilities for a driver frame, index 0
// being Drowsy and index 1 Non-Drowsy.
type Classifier struct {
	client *Client
}

func NewClassifier(c *Client) *Classifier {
	return &Classifier{client: c}
}

func (c *Classifier) Classify(ctx context.Context, image []byte) ([]float64, error) {
	resp, err := c.client.invoke(ctx, MethodClassify, image)
	if err != nil {
		return nil, err
	}

	values := resp.GetFields()["scores"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, fmt.Errorf("inference: classify response has no scores")
	}
	scores := make([]float64, len(values))
	for i, v := range values {
		scores[i] = v.GetNumberValue()
	}
	return scores, nil
}
