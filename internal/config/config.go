package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Pipeline  PipelineConfig           `yaml:"pipeline"`
	Channels  map[string]ChannelConfig `yaml:"channels"`
	Inference InferenceConfig          `yaml:"inference"`
	MQTT      MQTTConfig               `yaml:"mqtt"`
	Log       LogConfig                `yaml:"log"`
	Health    HealthConfig             `yaml:"health"`
	Mock      MockConfig               `yaml:"mock"`
}

type ServerConfig struct {
	EgressAddr        string   `yaml:"egress_addr"`
	EgressAlternates  []string `yaml:"egress_alternates"`
	IngressAddr       string   `yaml:"ingress_addr"`
	IngressAlternates []string `yaml:"ingress_alternates"`
	MaxConnections    int      `yaml:"max_connections"`
	SendBuffer        int      `yaml:"send_buffer"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
}

type PipelineConfig struct {
	QueueDepth       int           `yaml:"queue_depth"`
	TransformTimeout time.Duration `yaml:"transform_timeout"`
}

// ChannelConfig selects the transform applied to a channel's frames.
// Transform is one of "none", "overlay" or "classifier".
type ChannelConfig struct {
	Transform string `yaml:"transform"`
}

type InferenceConfig struct {
	DetectorAddr   string        `yaml:"detector_addr"`
	ClassifierAddr string        `yaml:"classifier_addr"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	ScoreThreshold float64       `yaml:"score_threshold"`
}

type MQTTConfig struct {
	Topic          string         `yaml:"topic"`
	ClientIDPrefix string         `yaml:"client_id_prefix"`
	ConnectTimeout time.Duration  `yaml:"connect_timeout"`
	Brokers        []BrokerConfig `yaml:"brokers"`
}

type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HealthConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
}

type MockConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

const (
	TransformNone       = "none"
	TransformOverlay    = "overlay"
	TransformClassifier = "classifier"
)

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			EgressAddr:        ":4001",
			EgressAlternates:  []string{":4002"},
			IngressAddr:       ":8887",
			IngressAlternates: []string{":8888"},
			MaxConnections:    0,
			SendBuffer:        16,
		},
		Pipeline: PipelineConfig{
			QueueDepth:       4,
			TransformTimeout: 2 * time.Second,
		},
		Channels: map[string]ChannelConfig{
			"frontcam":  {Transform: TransformNone},
			"drivercam": {Transform: TransformNone},
		},
		Inference: InferenceConfig{
			DialTimeout:    5 * time.Second,
			ScoreThreshold: 0.5,
		},
		MQTT: MQTTConfig{
			Topic:          "/drowsy",
			ClientIDPrefix: "relay-hub",
			ConnectTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Health: HealthConfig{
			FailureThreshold: 3,
		},
		Mock: MockConfig{
			Interval: 500 * time.Millisecond,
		},
	}
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return defaultConfig()
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	return cfg, nil
}

// ChannelTransform returns the transform configured for a channel name,
// defaulting to "none".
func (c *Config) ChannelTransform(name string) string {
	if ch, ok := c.Channels[name]; ok && ch.Transform != "" {
		return strings.ToLower(strings.TrimSpace(ch.Transform))
	}
	return TransformNone
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.EgressAddr) == "" {
		return fmt.Errorf("server.egress_addr is required")
	}
	if strings.TrimSpace(c.Server.IngressAddr) == "" {
		return fmt.Errorf("server.ingress_addr is required")
	}
	if c.Server.SendBuffer <= 0 {
		return fmt.Errorf("server.send_buffer must be positive")
	}
	if c.Pipeline.QueueDepth <= 0 {
		return fmt.Errorf("pipeline.queue_depth must be positive")
	}
	if c.Inference.ScoreThreshold < 0 || c.Inference.ScoreThreshold > 1 {
		return fmt.Errorf("inference.score_threshold must be within [0,1]")
	}
	for name := range c.Channels {
		switch c.ChannelTransform(name) {
		case TransformNone, TransformOverlay, TransformClassifier:
		default:
			return fmt.Errorf("channels.%s.transform: unknown transform %q", name, c.Channels[name].Transform)
		}
	}
	for i, b := range c.MQTT.Brokers {
		if strings.TrimSpace(b.Host) == "" {
			return fmt.Errorf("mqtt.brokers[%d]: host is required", i)
		}
		if b.Port <= 0 || b.Port > 65535 {
			return fmt.Errorf("mqtt.brokers[%d]: invalid port %d", i, b.Port)
		}
	}
	return nil
}
