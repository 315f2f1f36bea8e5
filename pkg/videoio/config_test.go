package videoio

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Backend != BackendAuto {
		t.Errorf("expected backend auto, got %s", cfg.Backend)
	}
	if cfg.Facing != FacingBack {
		t.Errorf("expected facing back, got %s", cfg.Facing)
	}
	if cfg.QueueSize != 8 {
		t.Errorf("expected queue size 8, got %d", cfg.QueueSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Presets(t *testing.T) {
	preview := PreviewConfig()
	if preview.Width != 640 || preview.Height != 480 {
		t.Errorf("expected 640x480 preview, got %dx%d", preview.Width, preview.Height)
	}

	hd := HDConfig()
	if hd.Width != 1920 || hd.Height != 1080 {
		t.Errorf("expected 1920x1080 HD, got %dx%d", hd.Width, hd.Height)
	}

	for _, cfg := range []Config{preview, hd} {
		if err := cfg.Validate(); err != nil {
			t.Errorf("preset should validate: %v", err)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backend", func(c *Config) { c.Backend = "tape" }},
		{"bad facing", func(c *Config) { c.Facing = "sideways" }},
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"negative framerate", func(c *Config) { c.Framerate = -1 }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"spatial without signal url", func(c *Config) { c.Backend = BackendSpatial }},
	}

	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestConfig_FrameInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Framerate = 25
	if got := cfg.FrameInterval(); got != 40*time.Millisecond {
		t.Errorf("expected 40ms at 25fps, got %v", got)
	}
}
