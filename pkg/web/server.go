// Package web provides the preview and control surface for the frame
// bridge. It is one consumer of the frame source controller: it never
// talks to acquisition backends directly.
package web

import (
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/framebridge/go-framebridge/pkg/hub"
	"github.com/framebridge/go-framebridge/pkg/videoio"
)

// Server is the preview/control web server.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	controller *videoio.Controller

	// videoHub fans the single controller stream out to viewers.
	videoHub *hub.Hub

	// Latest frame for snapshots
	latest   videoio.Frame
	latestMu sync.RWMutex

	pumpStop chan struct{}
	pumpDone chan struct{}
}

// NewServer creates a web server bound to a frame source controller.
func NewServer(port string, controller *videoio.Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		port:       port,
		logger:     logger,
		controller: controller,
		videoHub:   hub.New("video", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "framebridge",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/devices", s.handleDevices)
	api.Get("/config", s.handleGetConfig)
	api.Post("/config", s.handleSetConfig)
	api.Post("/start", s.handleStart)
	api.Post("/stop", s.handleStop)
	api.Get("/snapshot", s.handleSnapshot)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/video", websocket.New(s.handleVideoWS))

	s.app = app
	return s
}

// Start attaches to the controller's frame stream and serves until
// Shutdown. It blocks; use StartAsync to run in the background.
func (s *Server) Start() error {
	s.logger.Info("preview server listening", "addr", "http://localhost:"+s.port)

	s.pumpStop = make(chan struct{})
	s.pumpDone = make(chan struct{})
	go s.pumpFrames(s.controller.Attach())

	return s.app.Listen(":" + s.port)
}

// StartAsync starts the web server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

// pumpFrames forwards controller frames to viewers and keeps the
// latest one for snapshots. It exits when the controller closes or
// replaces the consumer channel, or when the server shuts down.
func (s *Server) pumpFrames(frames <-chan videoio.Frame) {
	defer close(s.pumpDone)

	for {
		select {
		case <-s.pumpStop:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.latestMu.Lock()
			s.latest = frame
			s.latestMu.Unlock()

			if frame.Format == videoio.FormatJPEG {
				s.videoHub.PublishFrame(frame.Image)
			}
		}
	}
}

// ViewerCount returns the number of connected video viewers.
func (s *Server) ViewerCount() int {
	return s.videoHub.ViewerCount()
}

// Shutdown detaches from the controller and stops the server.
func (s *Server) Shutdown() error {
	if s.pumpStop != nil {
		close(s.pumpStop)
		<-s.pumpDone
	}
	s.controller.Detach()
	return s.app.Shutdown()
}
