// Package config provides configuration helpers for go-framebridge commands.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/framebridge/go-framebridge/pkg/videoio"
)

// Default daemon configuration.
const (
	DefaultWebPort  = "8090"
	DefaultLogLevel = "info"
)

// Config is the daemon configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// WebPort is the preview/control server port.
	WebPort string `yaml:"web_port"`

	// Video is the frame source configuration.
	Video videoio.Config `yaml:"video"`
}

// Default returns the daemon defaults.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		WebPort:  DefaultWebPort,
		Video:    videoio.DefaultConfig(),
	}
}

// Load reads the config file at path (when non-empty) and then applies
// FRAMEBRIDGE_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Video.Validate(); err != nil {
		return cfg, fmt.Errorf("video config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FRAMEBRIDGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FRAMEBRIDGE_WEB_PORT"); v != "" {
		cfg.WebPort = v
	}
	if v := os.Getenv("FRAMEBRIDGE_BACKEND"); v != "" {
		cfg.Video.Backend = videoio.Backend(v)
	}
	if v := os.Getenv("FRAMEBRIDGE_FACING"); v != "" {
		cfg.Video.Facing = videoio.Facing(v)
	}
	if v := os.Getenv("FRAMEBRIDGE_DEVICE"); v != "" {
		cfg.Video.Device = v
	}
	if v := os.Getenv("FRAMEBRIDGE_SIGNAL_URL"); v != "" {
		cfg.Video.SignalURL = v
	}
}
