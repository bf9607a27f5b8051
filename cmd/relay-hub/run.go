package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/drivecam/relay/internal/config"
	"github.com/drivecam/relay/internal/fallback"
	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/health"
	"github.com/drivecam/relay/internal/hub"
	"github.com/drivecam/relay/internal/inference"
	"github.com/drivecam/relay/internal/ingress"
	"github.com/drivecam/relay/internal/metrics"
	"github.com/drivecam/relay/internal/mock"
	"github.com/drivecam/relay/internal/pipeline"
	"github.com/drivecam/relay/internal/sink"
	"github.com/drivecam/relay/internal/status"
	"github.com/drivecam/relay/internal/store"
	"github.com/drivecam/relay/internal/transform"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// models holds the inference clients. Either may be nil when its address
// is not configured.
type models struct {
	detector   *inference.Client
	classifier *inference.Client
}

func dialModels(cfg config.InferenceConfig, logger log.FieldLogger) (models, error) {
	opts := inference.Options{Timeout: cfg.DialTimeout}

	det, err := inference.Dial(cfg.DetectorAddr, opts, logger.WithField("model", "detector"))
	if err != nil {
		return models{}, err
	}
	cls, err := inference.Dial(cfg.ClassifierAddr, opts, logger.WithField("model", "classifier"))
	if err != nil {
		det.Close()
		return models{}, err
	}
	return models{detector: det, classifier: cls}, nil
}

func (m models) Close() {
	m.detector.Close()
	m.classifier.Close()
}

func (m models) report() []status.Model {
	var out []status.Model
	if m.detector != nil {
		out = append(out, status.Model{Name: "detector", Client: m.detector})
	}
	if m.classifier != nil {
		out = append(out, status.Model{Name: "classifier", Client: m.classifier})
	}
	return out
}

// buildTransforms picks each channel's transform from config and returns
// the transforms with their display names.
func buildTransforms(cfg *config.Config, m models, logger log.FieldLogger, onFailure transform.FailureFunc) (map[frame.Channel]transform.Transformer, map[frame.Channel]string) {
	transforms := make(map[frame.Channel]transform.Transformer, len(frame.Channels))
	names := make(map[frame.Channel]string, len(frame.Channels))

	for _, ch := range frame.Channels {
		name := cfg.ChannelTransform(ch.String())

		switch name {
		case config.TransformOverlay:
			transforms[ch] = transform.NewOverlay(inference.NewDetector(m.detector), cfg.Inference.ScoreThreshold, logger, onFailure)
		case config.TransformClassifier:
			var model transform.DrowsinessClassifier = inference.NewClassifier(m.classifier)
			if m.classifier == nil && cfg.Mock.Enabled {
				model = mock.NewClassifier()
				name += " (mock)"
			}
			transforms[ch] = transform.NewClassifier(model, logger, onFailure)
		default:
			transforms[ch] = transform.Passthrough{}
		}
		names[ch] = name
	}
	return transforms, names
}

func connectSink(ctx context.Context, cfg config.MQTTConfig, logger log.FieldLogger, m *metrics.Metrics) sink.Sink {
	if len(cfg.Brokers) == 0 {
		logger.Info("no mqtt brokers configured, detection results stay local")
		return sink.Nop{}
	}
	s, err := sink.Connect(ctx, cfg, logger.WithField("component", "mqtt"), m)
	if err != nil {
		logger.WithError(err).Warn("mqtt unavailable, detection results stay local")
		return sink.Nop{}
	}
	return s
}

func listen(ctx context.Context, name, addr string, alternates []string, logger log.FieldLogger) (net.Listener, error) {
	l, err := fallback.Listen(ctx, append([]string{addr}, alternates...))
	if err != nil {
		return nil, fmt.Errorf("%s listener: %w", name, err)
	}
	logger.WithField("addr", l.Addr().String()).Infof("%s listening", name)
	return l, nil
}

func serve(srv *http.Server, l net.Listener) error {
	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// run wires every component and blocks until ctx is cancelled or one of
// them fails.
func run(ctx context.Context, cfg *config.Config, logger log.FieldLogger) error {
	m := metrics.New()
	st := store.New()
	tracker := health.NewTracker(cfg.Health.FailureThreshold)

	mdl, err := dialModels(cfg.Inference, logger)
	if err != nil {
		return err
	}
	defer mdl.Close()

	onFailure := func(ch frame.Channel, err error) {
		tracker.RecordTransform(ch, err)
		if err != nil {
			m.TransformFailed(ch.String())
		}
	}
	transforms, names := buildTransforms(cfg, mdl, logger, onFailure)

	sk := connectSink(ctx, cfg.MQTT, logger, m)
	defer sk.Close()

	h := hub.New(st, hub.Options{
		MaxSessions: cfg.Server.MaxConnections,
		SendBuffer:  cfg.Server.SendBuffer,
		Metrics:     m,
		Logger:      logger.WithField("component", "hub"),
	})

	p := pipeline.New(st, h, sk, transforms, pipeline.Options{
		QueueDepth:       cfg.Pipeline.QueueDepth,
		TransformTimeout: cfg.Pipeline.TransformTimeout,
		Topic:            cfg.MQTT.Topic,
		Health:           tracker,
		Metrics:          m,
		Logger:           logger.WithField("component", "pipeline"),
	})
	h.SetPushHandler(p.Submit)

	sampler, err := health.NewSampler()
	if err != nil {
		logger.WithError(err).Warn("process stats unavailable")
	}
	reporter := status.NewReporter(status.Reporter{
		Store:      st,
		Health:     tracker,
		Hub:        h,
		Sink:       sk,
		Sampler:    sampler,
		Models:     mdl.report(),
		Transforms: names,
		Logger:     logger,
	})

	egressMux := http.NewServeMux()
	hub.NewServer(h, hub.ServerOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Status:         reporter,
		Metrics:        m.Handler(),
	}).SetupRoutes(egressMux)

	in := ingress.New(p, ingress.Options{
		Health:  tracker,
		Metrics: m,
		Logger:  logger.WithField("component", "ingress"),
	})
	ingressMux := http.NewServeMux()
	in.SetupRoutes(ingressMux)

	egressLis, err := listen(ctx, "egress", cfg.Server.EgressAddr, cfg.Server.EgressAlternates, logger)
	if err != nil {
		return err
	}
	ingressLis, err := listen(ctx, "ingress", cfg.Server.IngressAddr, cfg.Server.IngressAlternates, logger)
	if err != nil {
		egressLis.Close()
		return err
	}

	egressSrv := &http.Server{Handler: egressMux, ReadHeaderTimeout: 10 * time.Second}
	ingressSrv := &http.Server{Handler: ingressMux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(ctx) })
	g.Go(func() error { return serve(egressSrv, egressLis) })
	g.Go(func() error { return serve(ingressSrv, ingressLis) })
	if cfg.Mock.Enabled {
		gen := mock.NewGenerator(p, cfg.Mock.Interval, logger.WithField("component", "mock"))
		g.Go(func() error { return gen.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		// Hijacked websocket connections are not tracked by http.Server.
		h.Close()
		in.Close()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(egressSrv.Shutdown(sctx), ingressSrv.Shutdown(sctx))
	})

	return g.Wait()
}
