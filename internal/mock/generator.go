// Package mock synthesizes camera traffic so the hub, consumers and the TUI
// can be exercised without hardware.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"

	"github.com/drivecam/relay/internal/frame"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	frameWidth  = 320
	frameHeight = 240
)

// Submitter is the pipeline entry point mock frames are fed into.
type Submitter interface {
	Submit(ctx context.Context, ch frame.Channel, f frame.Frame, origin string) error
}

type mockCamera struct {
	ch         frame.Channel
	background color.RGBA
	marker     color.RGBA
	// speed is how many pixels the marker moves per tick.
	speed int
}

type Generator struct {
	submit   Submitter
	interval time.Duration
	cameras  []mockCamera
	log      log.FieldLogger
}

func NewGenerator(s Submitter, interval time.Duration, logger log.FieldLogger) *Generator {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Generator{
		submit:   s,
		interval: interval,
		log:      logger,
		cameras: []mockCamera{
			{ch: frame.Front, background: color.RGBA{30, 60, 90, 255}, marker: color.RGBA{240, 200, 40, 255}, speed: 7},
			{ch: frame.Driver, background: color.RGBA{50, 50, 50, 255}, marker: color.RGBA{200, 80, 80, 255}, speed: 3},
		},
	}
}

// Run feeds one frame per camera every interval until ctx is done.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.log.WithField("interval", g.interval).Info("mock cameras started")
	tick := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			tick++
			for _, cam := range g.cameras {
				data, err := render(cam, tick, now)
				if err != nil {
					g.log.WithError(err).WithField("channel", cam.ch).Warn("mock frame render failed")
					continue
				}
				if err := g.submit.Submit(ctx, cam.ch, frame.Wrap(data), ""); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("mock submit %s: %w", cam.ch, err)
				}
			}
		}
	}
}

// render draws one JPEG: a solid background, a marker sliding across the
// frame and a caption with the channel and time.
func render(cam mockCamera, tick int, at time.Time) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(cam.background), image.Point{}, draw.Src)

	const size = 40
	x := (tick * cam.speed) % (frameWidth - size)
	y := frameHeight/2 - size/2
	draw.Draw(img, image.Rect(x, y, x+size, y+size), image.NewUniform(cam.marker), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(6, 16),
	}
	d.DrawString(fmt.Sprintf("%s #%d", cam.ch.Label(), tick))
	d.Dot = fixed.P(6, frameHeight-8)
	d.DrawString(at.Format("15:04:05.000"))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
