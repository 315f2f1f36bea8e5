//go:build integration && !spatial

package videoio

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

// Requires a connected camera. Run with: go test -tags integration

func TestCaptureSource_Hardware(t *testing.T) {
	devices := discoverDevices(context.Background(), nil)
	if len(devices) == 0 {
		t.Skip("no capture devices present")
	}
	t.Logf("discovered %d devices, first: %s (%s)", len(devices), devices[0].ID, devices[0].Label)

	cfg := PreviewConfig()
	cfg.Backend = BackendCapture
	cfg.Facing = devices[0].Facing

	src, err := newCaptureSource(cfg, slog.Default(), nil)
	if err != nil {
		t.Fatalf("newCaptureSource failed: %v", err)
	}

	ctx := context.Background()
	if err := src.Setup(ctx, cfg); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	got := make(chan Frame, 1)
	if err := src.Start(ctx, func(f Frame) {
		select {
		case got <- f:
		default:
		}
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	select {
	case f := <-got:
		if f.Format != FormatJPEG {
			t.Errorf("expected jpeg frame, got %s", f.Format)
		}
		if len(f.Image) == 0 {
			t.Error("empty frame image")
		}
		if f.Width <= 0 || f.Height <= 0 {
			t.Errorf("bad dimensions %dx%d", f.Width, f.Height)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no frame from hardware within 5s")
	}
}
