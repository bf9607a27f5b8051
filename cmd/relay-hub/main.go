package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/drivecam/relay/internal/config"
	"github.com/drivecam/relay/internal/logging"
	cli "github.com/jawher/mow.cli"
	log "github.com/sirupsen/logrus"
)

const (
	appName = "relay-hub"
	appDesc = "camera frame relay and fan-out hub"
)

func main() {
	app := cli.App(appName, appDesc)

	configPath := app.String(cli.StringOpt{
		Name:   "c config",
		Desc:   "path to the YAML config file",
		EnvVar: "RELAY_CONFIG",
		Value:  "config.yaml",
	})

	var flags overrides

	flags.egressAddr = app.String(cli.StringOpt{
		Name:   "egress-addr",
		Desc:   "consumer websocket address, overrides server.egress_addr",
		EnvVar: "RELAY_EGRESS_ADDR",
	})

	flags.ingressAddr = app.String(cli.StringOpt{
		Name:   "ingress-addr",
		Desc:   "camera websocket address, overrides server.ingress_addr",
		EnvVar: "RELAY_INGRESS_ADDR",
	})

	flags.logLevel = app.String(cli.StringOpt{
		Name:   "log-level",
		Desc:   "debug, info, warn or error",
		EnvVar: "RELAY_LOG_LEVEL",
	})

	flags.logFormat = app.String(cli.StringOpt{
		Name:   "log-format",
		Desc:   "text or json",
		EnvVar: "RELAY_LOG_FORMAT",
	})

	flags.mock = app.Bool(cli.BoolOpt{
		Name:   "mock",
		Desc:   "feed synthetic camera frames",
		EnvVar: "RELAY_MOCK",
	})

	flags.mqttHost = app.String(cli.StringOpt{
		Name:   "mqtt-host",
		Desc:   "MQTT broker tried before the configured ones",
		EnvVar: "RELAY_MQTT_HOST",
	})

	flags.mqttPort = app.Int(cli.IntOpt{
		Name:   "mqtt-port",
		Desc:   "port for --mqtt-host",
		EnvVar: "RELAY_MQTT_PORT",
		Value:  1883,
	})

	app.Action = func() {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load config")
		}
		flags.apply(cfg)
		if err := cfg.Validate(); err != nil {
			log.WithError(err).Fatal("invalid config")
		}

		logger := logging.Configure(cfg.Log.Level, cfg.Log.Format)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := run(ctx, cfg, logger); err != nil {
			logger.WithError(err).Fatal("relay hub stopped")
		}
		logger.Info("relay hub stopped")
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("failed to start")
	}
}

// overrides are the command line and environment values that take
// precedence over the config file. Empty values leave the file alone.
type overrides struct {
	egressAddr  *string
	ingressAddr *string
	logLevel    *string
	logFormat   *string
	mock        *bool
	mqttHost    *string
	mqttPort    *int
}

func (o overrides) apply(cfg *config.Config) {
	if v := deref(o.egressAddr); v != "" {
		cfg.Server.EgressAddr = v
	}
	if v := deref(o.ingressAddr); v != "" {
		cfg.Server.IngressAddr = v
	}
	if v := deref(o.logLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := deref(o.logFormat); v != "" {
		cfg.Log.Format = v
	}
	if o.mock != nil && *o.mock {
		cfg.Mock.Enabled = true
	}
	if host := deref(o.mqttHost); host != "" {
		port := 1883
		if o.mqttPort != nil && *o.mqttPort > 0 {
			port = *o.mqttPort
		}
		cfg.MQTT.Brokers = append([]config.BrokerConfig{{Host: host, Port: port}}, cfg.MQTT.Brokers...)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
