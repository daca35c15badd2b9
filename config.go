package callstream

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the file-based configuration consumed by hosts that embed the
// engine, such as the demo server and client under internal/cmd. The engine
// itself takes everything it needs through constructor arguments; Config
// only centralizes the knobs a deployment wants in one place.
type Config struct {
	// QueueCapacity bounds each direction of in-process pipe transports.
	QueueCapacity int `yaml:"queue_capacity"`
	// CallTimeoutSeconds is how long a host lets one session run before it
	// cancels it through the session's Cancel hook. Zero means no limit;
	// the engine itself never imposes deadlines.
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
	// GRPCListenAddr is the demo server's gRPC listen address.
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
	// WSListenAddr is the demo server's websocket listen address.
	WSListenAddr string `yaml:"ws_listen_addr"`
	// LogLevel is a logrus level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// LoadConfig reads a yaml config file and applies defaults for anything it
// leaves unset.
func LoadConfig(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", file, err)
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills unset config fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.GRPCListenAddr == "" {
		cfg.GRPCListenAddr = "127.0.0.1:26355"
	}
	if cfg.WSListenAddr == "" {
		cfg.WSListenAddr = "127.0.0.1:26356"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// CallTimeout returns the configured per-call timeout as a duration, or
// zero when calls are unbounded.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}
