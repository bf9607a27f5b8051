package main

import (
	"context"
	"net"
	"testing"

	"github.com/drivecam/relay/internal/config"
	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/logging"
	"github.com/drivecam/relay/internal/sink"
	"github.com/drivecam/relay/internal/transform"
)

func strp(s string) *string { return &s }

func TestOverridesApply(t *testing.T) {
	cfg := config.Default()
	cfg.MQTT.Brokers = []config.BrokerConfig{{Host: "broker.emqx.io", Port: 1883}}

	mock := true
	port := 8883
	overrides{
		egressAddr: strp(":5001"),
		logLevel:   strp("debug"),
		mock:       &mock,
		mqttHost:   strp("10.0.0.2"),
		mqttPort:   &port,
	}.apply(cfg)

	if cfg.Server.EgressAddr != ":5001" {
		t.Errorf("EgressAddr = %q, want :5001", cfg.Server.EgressAddr)
	}
	if cfg.Server.IngressAddr != ":8887" {
		t.Errorf("IngressAddr = %q, an empty override should keep the file value", cfg.Server.IngressAddr)
	}
	if cfg.Log.Level != "debug" || !cfg.Mock.Enabled {
		t.Errorf("Log.Level = %q, Mock.Enabled = %v", cfg.Log.Level, cfg.Mock.Enabled)
	}
	if len(cfg.MQTT.Brokers) != 2 || cfg.MQTT.Brokers[0].Host != "10.0.0.2" || cfg.MQTT.Brokers[0].Port != 8883 {
		t.Errorf("Brokers = %+v, want the override first", cfg.MQTT.Brokers)
	}
}

func TestOverridesZeroValue(t *testing.T) {
	cfg := config.Default()
	overrides{}.apply(cfg)
	if cfg.Server.EgressAddr != ":4001" || cfg.Mock.Enabled || len(cfg.MQTT.Brokers) != 0 {
		t.Errorf("empty overrides changed the config: %+v", cfg)
	}
}

func TestBuildTransforms(t *testing.T) {
	tests := []struct {
		name      string
		front     string
		driver    string
		mock      bool
		wantFront string
		wantDrv   string
	}{
		{"defaults", "", "", false, "none", "none"},
		{"overlay and classifier", "overlay", "classifier", false, "overlay", "classifier"},
		{"mock classifier", "none", "classifier", true, "none", "classifier (mock)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Channels["frontcam"] = config.ChannelConfig{Transform: tt.front}
			cfg.Channels["drivercam"] = config.ChannelConfig{Transform: tt.driver}
			cfg.Mock.Enabled = tt.mock

			transforms, names := buildTransforms(cfg, models{}, logging.Discard(), nil)
			if names[frame.Front] != tt.wantFront || names[frame.Driver] != tt.wantDrv {
				t.Errorf("names = %v, want %s/%s", names, tt.wantFront, tt.wantDrv)
			}
			if len(transforms) != len(frame.Channels) {
				t.Fatalf("len(transforms) = %d", len(transforms))
			}
			if tt.front == "" {
				if _, ok := transforms[frame.Front].(transform.Passthrough); !ok {
					t.Errorf("front transform = %T, want Passthrough", transforms[frame.Front])
				}
			}
		})
	}
}

func TestMockClassifierProducesResults(t *testing.T) {
	cfg := config.Default()
	cfg.Channels["drivercam"] = config.ChannelConfig{Transform: config.TransformClassifier}
	cfg.Mock.Enabled = true

	transforms, _ := buildTransforms(cfg, models{}, logging.Discard(), nil)
	_, res := transforms[frame.Driver].Apply(context.Background(), frame.Driver, frame.New([]byte{1}))
	if res == nil {
		t.Fatal("mock classifier should always produce a result")
	}
}

func TestUnconfiguredClassifierFailsSoft(t *testing.T) {
	cfg := config.Default()
	cfg.Channels["drivercam"] = config.ChannelConfig{Transform: config.TransformClassifier}

	var failures int
	transforms, _ := buildTransforms(cfg, models{}, logging.Discard(), func(frame.Channel, error) { failures++ })
	out, res := transforms[frame.Driver].Apply(context.Background(), frame.Driver, frame.New([]byte{1, 2, 3}))
	if res != nil || out.Size() != 3 {
		t.Errorf("Apply = %d bytes, %+v; want the frame back and no result", out.Size(), res)
	}
	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
}

func TestConnectSinkWithoutBrokers(t *testing.T) {
	s := connectSink(context.Background(), config.Default().MQTT, logging.Discard(), nil)
	if _, ok := s.(sink.Nop); !ok {
		t.Errorf("sink = %T, want sink.Nop", s)
	}
}

func TestListenUsesAlternate(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	l, err := listen(context.Background(), "egress", busy.Addr().String(), []string{"127.0.0.1:0"}, logging.Discard())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	if l.Addr().String() == busy.Addr().String() {
		t.Error("listen should have moved to the alternate address")
	}
}
