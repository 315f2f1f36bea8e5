// Framebridge daemon - configures a camera frame source and serves the
// decoded frame stream to preview and control clients.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/framebridge/go-framebridge/internal/config"
	"github.com/framebridge/go-framebridge/internal/log"
	"github.com/framebridge/go-framebridge/pkg/videoio"
	"github.com/framebridge/go-framebridge/pkg/web"
)

func main() {
	cfg := parseFlags()

	log.Init(cfg.LogLevel)

	controller, err := videoio.NewController(cfg.Video,
		videoio.WithLogger(log.Component("videoio")),
	)
	if err != nil {
		log.Error("invalid video config", "error", err)
		os.Exit(1)
	}
	defer controller.Close()

	server := web.NewServer(cfg.WebPort, controller, log.Component("web"))
	server.StartAsync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := controller.Start(ctx); err != nil {
		log.Error("start failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	log.Info("shutting down")
	server.Shutdown()
	controller.Stop()
}

// parseFlags parses command line flags on top of the config file and
// environment overrides.
func parseFlags() config.Config {
	configPath := flag.String("config", "", "Path to YAML config file")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	port := flag.String("port", "", "Preview server port (overrides config)")
	backend := flag.String("backend", "", "Acquisition backend: auto, capture, spatial, mock")
	facing := flag.String("facing", "", "Camera facing preference: front, back, external")
	device := flag.String("device", "", "Preferred device ID")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Init("info")
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if *debug {
		cfg.LogLevel = "debug"
	}
	if *port != "" {
		cfg.WebPort = *port
	}
	if *backend != "" {
		cfg.Video.Backend = videoio.Backend(*backend)
	}
	if *facing != "" {
		cfg.Video.Facing = videoio.Facing(*facing)
	}
	if *device != "" {
		cfg.Video.Device = *device
	}
	return cfg
}
