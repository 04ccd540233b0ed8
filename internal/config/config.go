package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration, loaded from a YAML file with
// defaults applied for anything omitted.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TransportConfig tunes the per-connection channel behavior shared by the
// streaming and polling modes.
type TransportConfig struct {
	// PingInterval is how often the server pings a streaming connection.
	PingInterval time.Duration `yaml:"ping_interval"`
	// PingTimeout is how long past a ping a silent connection survives.
	PingTimeout time.Duration `yaml:"ping_timeout"`
	// UpgradeTimeout bounds a polling-to-streaming upgrade in flight.
	UpgradeTimeout time.Duration `yaml:"upgrade_timeout"`
	// PollWait is how long a poll request parks before returning empty.
	PollWait time.Duration `yaml:"poll_wait"`
	// SendQueueSize bounds each connection's outbound queue.
	SendQueueSize int `yaml:"send_queue_size"`
	// MaxMessageBytes caps one inbound frame.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
}

// duration accepts Go duration strings ("30s", "1m") in YAML, which yaml.v3
// will not decode into time.Duration on its own.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(v)
	return nil
}

func (s *ServerConfig) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		Listen          string   `yaml:"listen"`
		ShutdownTimeout duration `yaml:"shutdown_timeout"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	*s = ServerConfig{
		Listen:          aux.Listen,
		ShutdownTimeout: time.Duration(aux.ShutdownTimeout),
	}
	return nil
}

func (t *TransportConfig) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		PingInterval    duration `yaml:"ping_interval"`
		PingTimeout     duration `yaml:"ping_timeout"`
		UpgradeTimeout  duration `yaml:"upgrade_timeout"`
		PollWait        duration `yaml:"poll_wait"`
		SendQueueSize   int      `yaml:"send_queue_size"`
		MaxMessageBytes int64    `yaml:"max_message_bytes"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	*t = TransportConfig{
		PingInterval:    time.Duration(aux.PingInterval),
		PingTimeout:     time.Duration(aux.PingTimeout),
		UpgradeTimeout:  time.Duration(aux.UpgradeTimeout),
		PollWait:        time.Duration(aux.PollWait),
		SendQueueSize:   aux.SendQueueSize,
		MaxMessageBytes: aux.MaxMessageBytes,
	}
	return nil
}

// Load reads the config file at path, applies defaults, and validates. An
// empty path yields the pure-default configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
