package sink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drivecam/relay/internal/config"
	"github.com/drivecam/relay/internal/fallback"
	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/metrics"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	qos            = 1
	publishTimeout = 5 * time.Second
	keepAlive      = 60 * time.Second
)

// client is the part of mqtt.Client the sink uses.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTT struct {
	client  client
	broker  string
	log     log.FieldLogger
	metrics *metrics.Metrics
	wg      sync.WaitGroup

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func newMQTT(c client, broker string, logger log.FieldLogger, m *metrics.Metrics) *MQTT {
	return &MQTT{client: c, broker: broker, log: logger, metrics: m}
}

// Connect tries the configured brokers in order and keeps the first one
// that accepts a connection. Brokers are only tried here; once connected,
// paho's auto-reconnect handles drops on that broker.
func Connect(ctx context.Context, cfg config.MQTTConfig, logger log.FieldLogger, m *metrics.Metrics) (*MQTT, error) {
	dial := func(ctx context.Context, b config.BrokerConfig) (mqtt.Client, error) {
		return dialBroker(ctx, cfg, b, logger)
	}
	c, broker, err := fallback.First(ctx, cfg.Brokers, dial)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	url := BrokerURL(broker)
	logger.WithField("broker", url).Info("connected to mqtt broker")
	return newMQTT(c, url, logger, m), nil
}

// BrokerURL renders a broker as a paho server URL.
func BrokerURL(b config.BrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

func dialBroker(ctx context.Context, cfg config.MQTTConfig, b config.BrokerConfig, logger log.FieldLogger) (mqtt.Client, error) {
	url := BrokerURL(b)
	entry := logger.WithField("broker", url)

	opts := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, uuid.NewString()[:8])).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetKeepAlive(keepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			entry.WithError(err).Warn("mqtt connection lost")
		}).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			entry.Info("mqtt reconnecting")
		})
	if b.Username != "" {
		opts.SetUsername(b.Username)
		opts.SetPassword(b.Password)
	}
	if b.TLS {
		opts.SetTLSConfig(&tls.Config{ServerName: b.Host, MinVersion: tls.VersionTLS12})
	}

	c := mqtt.NewClient(opts)
	tok := c.Connect()

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
	case <-timer.C:
		c.Disconnect(0)
		return nil, fmt.Errorf("connect %s: timed out after %s", url, timeout)
	case <-ctx.Done():
		c.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := tok.Error(); err != nil {
		entry.WithError(err).Warn("mqtt broker refused connection")
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return c, nil
}

// Publish hands result to paho and returns immediately. Results published
// while the connection is down are dropped.
func (s *MQTT) Publish(topic string, result frame.DetectionResult) {
	if !s.client.IsConnectionOpen() {
		s.dropped.Add(1)
		s.metrics.SinkPublished("dropped")
		s.log.WithField("topic", topic).Debug("mqtt not connected, dropping result")
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		s.failed.Add(1)
		s.metrics.SinkPublished("error")
		s.log.WithError(err).Error("marshal detection result")
		return
	}

	tok := s.client.Publish(topic, qos, false, payload)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if !tok.WaitTimeout(publishTimeout) {
			s.failed.Add(1)
			s.metrics.SinkPublished("error")
			s.log.WithField("topic", topic).Warn("mqtt publish timed out")
			return
		}
		if err := tok.Error(); err != nil {
			s.failed.Add(1)
			s.metrics.SinkPublished("error")
			s.log.WithError(err).WithField("topic", topic).Warn("mqtt publish failed")
			return
		}
		s.published.Add(1)
		s.metrics.SinkPublished("ok")
		s.log.WithFields(log.Fields{"topic": topic, "result": result.Result}).Debug("published detection result")
	}()
}

func (s *MQTT) Status() Status {
	return Status{
		Connected: s.client.IsConnectionOpen(),
		Broker:    s.broker,
		Published: s.published.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Close waits for in-flight publishes and disconnects.
func (s *MQTT) Close() {
	s.wg.Wait()
	s.client.Disconnect(250)
}
