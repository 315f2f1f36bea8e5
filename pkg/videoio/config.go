// Package videoio provides cross-platform camera frame acquisition.
//
// This package supports multiple backends:
//   - Capture (local device) - Production use with a traditional capture session
//   - Spatial (sensor provider) - Passthrough sensor frames over WebRTC
//   - Mock - CI/Testing without hardware
//
// Exactly one hardware backend is compiled per build target (selected
// via the "spatial" build tag); the mock backend is always available.
package videoio

import (
	"fmt"
	"time"
)

// Backend represents the frame acquisition backend type.
type Backend string

const (
	// BackendAuto automatically selects the backend compiled into this build.
	BackendAuto Backend = "auto"
	// BackendCapture uses a traditional capture session against a local device.
	BackendCapture Backend = "capture"
	// BackendSpatial consumes passthrough sensor frames from a spatial provider.
	BackendSpatial Backend = "spatial"
	// BackendMock uses a synthetic frame generator for testing.
	BackendMock Backend = "mock"
)

// Facing is the logical camera position preference.
type Facing string

const (
	// FacingFront selects a user-facing camera.
	FacingFront Facing = "front"
	// FacingBack selects a world-facing camera.
	FacingBack Facing = "back"
	// FacingExternal selects an external (USB/continuity) camera.
	FacingExternal Facing = "external"
)

// Config holds frame source configuration.
type Config struct {
	// Backend specifies which acquisition backend to use.
	// Default: "auto" (the backend compiled into this build)
	Backend Backend `yaml:"backend" json:"backend"`

	// Facing is the preferred camera position.
	// Default: "back"
	Facing Facing `yaml:"facing" json:"facing"`

	// Device is the preferred device identifier. When present among
	// discovered devices it is used; otherwise the first discovered
	// device matching Facing is used.
	Device string `yaml:"device" json:"device"`

	// Width and Height are the requested frame dimensions.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// Framerate is the target frames per second.
	Framerate int `yaml:"framerate" json:"framerate"`

	// QueueSize bounds the consumer channel. When the consumer falls
	// behind, the oldest queued frame is dropped to make room.
	// Default: 8
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// DeviceTable optionally annotates device IDs with facing and
	// label metadata that cannot be probed from the hardware itself.
	DeviceTable []Device `yaml:"device_table,omitempty" json:"device_table,omitempty"`

	// SignalURL is the spatial provider's signalling endpoint
	// (spatial backend only), e.g. "ws://sensor-host:8443".
	SignalURL string `yaml:"signal_url,omitempty" json:"signal_url,omitempty"`

	// Slot is the logical camera slot to consume from the spatial
	// provider. Default: "left"
	Slot string `yaml:"slot,omitempty" json:"slot,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendAuto,
		Facing:    FacingBack,
		Width:     1280,
		Height:    720,
		Framerate: 30,
		QueueSize: 8,
		Slot:      "left",
	}
}

// PreviewConfig returns a low-resolution configuration for previews.
func PreviewConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 640
	cfg.Height = 480
	cfg.Framerate = 15
	return cfg
}

// HDConfig returns a 1080p configuration.
func HDConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 1920
	cfg.Height = 1080
	return cfg
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendCapture, BackendSpatial, BackendMock:
	default:
		return fmt.Errorf("unknown backend: %q", c.Backend)
	}
	switch c.Facing {
	case FacingFront, FacingBack, FacingExternal:
	default:
		return fmt.Errorf("unknown facing: %q", c.Facing)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Framerate <= 0 {
		return fmt.Errorf("framerate must be positive, got %d", c.Framerate)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.Backend == BackendSpatial && c.SignalURL == "" {
		return fmt.Errorf("spatial backend requires signal_url")
	}
	return nil
}

// FrameInterval returns the pacing interval between frames.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.Framerate)
}
