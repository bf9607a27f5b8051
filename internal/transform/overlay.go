package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/inference"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	boxColor   = color.RGBA{0, 255, 0, 255}
	labelBg    = color.RGBA{0, 0, 0, 180}
	jpegParams = &jpeg.Options{Quality: 85}
)

// Overlay draws the detector's boxes onto the frame. Frames with no
// detections above the threshold are passed through without re-encoding.
type Overlay struct {
	detector  ObjectDetector
	threshold float64
	log       log.FieldLogger
	onFailure FailureFunc
}

func NewOverlay(detector ObjectDetector, threshold float64, logger log.FieldLogger, onFailure FailureFunc) *Overlay {
	return &Overlay{detector: detector, threshold: threshold, log: logger, onFailure: onFailure}
}

func (o *Overlay) Apply(ctx context.Context, ch frame.Channel, f frame.Frame) (frame.Frame, *frame.DetectionResult) {
	objects, err := o.detector.Detect(ctx, f.Bytes())
	if err != nil {
		o.fail(ch, err)
		return f, nil
	}

	kept := objects[:0:0]
	for _, obj := range objects {
		if obj.Score >= o.threshold {
			kept = append(kept, obj)
		}
	}
	if len(kept) == 0 {
		report(o.onFailure, ch, nil)
		return f, nil
	}

	out, err := drawOverlays(f.Bytes(), kept)
	if err != nil {
		o.fail(ch, err)
		return f, nil
	}

	report(o.onFailure, ch, nil)
	return f.WithData(out), nil
}

func (o *Overlay) fail(ch frame.Channel, err error) {
	o.log.WithError(err).WithField("channel", ch).Warn("overlay failed, relaying original frame")
	report(o.onFailure, ch, err)
}

func drawOverlays(jpegData []byte, objects []inference.Object) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, obj := range objects {
		x, y := int(obj.Box[0]), int(obj.Box[1])
		w, h := int(obj.Box[2]), int(obj.Box[3])
		drawBox(rgba, x, y, w, h, boxColor, 2)
		drawLabel(rgba, x, y-14, fmt.Sprintf("%s %.0f%%", obj.Label, obj.Score*100), boxColor)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, jpegParams); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	r := image.Rect(x, y, x+w, y+h)
	for t := 0; t < thickness; t++ {
		edges := []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y+t, r.Max.X, r.Min.Y+t+1),
			image.Rect(r.Min.X, r.Max.Y-t-1, r.Max.X, r.Max.Y-t),
			image.Rect(r.Min.X+t, r.Min.Y, r.Min.X+t+1, r.Max.Y),
			image.Rect(r.Max.X-t-1, r.Min.Y, r.Max.X-t, r.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(img, e.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 0 {
		y = 0
	}
	if x < 0 {
		x = 0
	}

	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(c), Face: face}
	width := d.MeasureString(label).Ceil()

	bg := image.Rect(x, y, x+width+4, y+face.Height+2).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(labelBg), image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{X: fixed.I(x + 2), Y: fixed.I(y + face.Ascent + 1)}
	d.DrawString(label)
}
