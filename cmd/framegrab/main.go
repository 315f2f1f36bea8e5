// Framegrab - capture a single frame from the configured camera and
// write it to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/framebridge/go-framebridge/internal/log"
	"github.com/framebridge/go-framebridge/pkg/videoio"
)

func main() {
	backend := flag.String("backend", "auto", "Acquisition backend: auto, capture, spatial, mock")
	facing := flag.String("facing", "back", "Camera facing preference: front, back, external")
	device := flag.String("device", "", "Preferred device ID")
	output := flag.String("o", "frame.jpg", "Output file path")
	timeout := flag.Duration("timeout", 10*time.Second, "How long to wait for a frame")
	flag.Parse()

	log.Init("warn")

	cfg := videoio.DefaultConfig()
	cfg.Backend = videoio.Backend(*backend)
	cfg.Facing = videoio.Facing(*facing)
	cfg.Device = *device

	controller, err := videoio.NewController(cfg, videoio.WithLogger(log.L()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	defer controller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	frames := controller.Attach()
	if err := controller.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start failed: %v\n", err)
		os.Exit(1)
	}
	defer controller.Stop()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "timed out waiting for a frame; is a camera connected?")
		os.Exit(1)
	case frame, ok := <-frames:
		if !ok {
			fmt.Fprintln(os.Stderr, "frame stream closed")
			os.Exit(1)
		}
		if err := os.WriteFile(*output, frame.Image, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", *output, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s (%dx%d, %d bytes)\n", *output, frame.Width, frame.Height, len(frame.Image))
	}
}
