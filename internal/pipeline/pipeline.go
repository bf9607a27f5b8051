// Package pipeline runs every frame of a channel through its transform,
// the store, the consumer broadcast and the result sink, one frame at a
// time per channel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/health"
	"github.com/drivecam/relay/internal/metrics"
	"github.com/drivecam/relay/internal/sink"
	"github.com/drivecam/relay/internal/transform"
	"github.com/drivecam/relay/internal/wire"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrStopped = errors.New("pipeline: stopped")

type Store interface {
	Set(ch frame.Channel, f frame.Frame)
}

type Broadcaster interface {
	Broadcast(ch frame.Channel, f frame.Frame, exclude string) int
	Emit(event string, payload any) error
}

type Options struct {
	QueueDepth       int
	TransformTimeout time.Duration
	// Topic is the sink topic detection results are published on.
	Topic   string
	Health  *health.Tracker
	Metrics *metrics.Metrics
	Logger  log.FieldLogger
}

type job struct {
	frame  frame.Frame
	origin string
}

type worker struct {
	ch        frame.Channel
	transform transform.Transformer
	queue     chan job
	seq       uint64
}

type Pipeline struct {
	workers map[frame.Channel]*worker
	store   Store
	hub     Broadcaster
	sink    sink.Sink
	opts    Options
	log     log.FieldLogger
	stopped chan struct{}
}

// New builds one worker per channel in frame.Channels. Channels missing from
// transforms get transform.Passthrough.
func New(st Store, hub Broadcaster, sk sink.Sink, transforms map[frame.Channel]transform.Transformer, opts Options) *Pipeline {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 4
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if sk == nil {
		sk = sink.Nop{}
	}

	p := &Pipeline{
		workers: make(map[frame.Channel]*worker, len(frame.Channels)),
		store:   st,
		hub:     hub,
		sink:    sk,
		opts:    opts,
		log:     opts.Logger,
		stopped: make(chan struct{}),
	}
	for _, ch := range frame.Channels {
		tr, ok := transforms[ch]
		if !ok || tr == nil {
			tr = transform.Passthrough{}
		}
		p.workers[ch] = &worker{ch: ch, transform: tr, queue: make(chan job, opts.QueueDepth)}
	}
	return p
}

// Submit queues f for ch. It blocks while the channel's queue is full, which
// stalls only the submitting producer. origin is excluded from the broadcast.
func (p *Pipeline) Submit(ctx context.Context, ch frame.Channel, f frame.Frame, origin string) error {
	w, ok := p.workers[ch]
	if !ok {
		return fmt.Errorf("pipeline: unknown channel %q", ch)
	}

	select {
	case <-p.stopped:
		return ErrStopped
	default:
	}
	select {
	case w.queue <- job{frame: f, origin: origin}:
		p.opts.Metrics.FrameReceived(ch.String())
		return nil
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the workers until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.stopped)

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			p.runWorker(ctx, w)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) runWorker(ctx context.Context, w *worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.queue:
			w.seq++
			j.frame.Seq = w.seq
			p.process(ctx, w, j)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, w *worker, j job) {
	tctx := ctx
	if p.opts.TransformTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, p.opts.TransformTimeout)
		defer cancel()
	}

	start := time.Now()
	out, result := w.transform.Apply(tctx, w.ch, j.frame)
	p.opts.Metrics.ObserveTransform(w.ch.String(), time.Since(start))

	p.store.Set(w.ch, out)
	sent := p.hub.Broadcast(w.ch, out, j.origin)

	p.log.WithFields(log.Fields{
		"channel":  w.ch,
		"seq":      out.Seq,
		"bytes":    out.Size(),
		"sessions": sent,
	}).Debug("frame relayed")

	if result != nil {
		if err := p.hub.Emit(wire.EventDrowsy, *result); err != nil {
			p.log.WithError(err).Warn("emit detection result")
		}
		p.sink.Publish(p.opts.Topic, *result)
	}

	if p.opts.Health != nil {
		if status, changed := p.opts.Health.Transition(w.ch); changed {
			p.log.WithFields(log.Fields{"channel": w.ch, "status": status}).Info("channel health changed")
		}
	}
}
