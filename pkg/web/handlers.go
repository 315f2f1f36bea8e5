package web

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/framebridge/go-framebridge/pkg/videoio"
)

// startTimeout bounds how long an API-triggered session change may
// block on device setup before the request errors out.
const startTimeout = 15 * time.Second

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	videoio.Stats
	Viewers int `json:"viewers"`
}

// handleStatus returns the controller's frame flow counters.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(StatusResponse{
		Stats:   s.controller.Stats(),
		Viewers: s.ViewerCount(),
	})
}

// handleDevices returns the cached device list. The list is populated
// on the first session setup; before that it is empty.
func (s *Server) handleDevices(c *fiber.Ctx) error {
	devices := s.controller.Devices()
	if devices == nil {
		devices = []videoio.Device{}
	}
	return c.JSON(devices)
}

func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	return c.JSON(s.controller.Config())
}

// handleSetConfig applies a new frame source configuration. The
// controller restarts acquisition, so the caller observes exactly one
// active session after the change.
func (s *Server) handleSetConfig(c *fiber.Ctx) error {
	cfg := s.controller.Config()
	if err := c.BodyParser(&cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ctx, cancel := context.WithTimeout(c.Context(), startTimeout)
	defer cancel()

	if err := s.controller.Reconfigure(ctx, cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.controller.Config())
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), startTimeout)
	defer cancel()

	if err := s.controller.Start(ctx); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	s.videoHub.PublishEvent(fiber.Map{"type": "stream", "running": true})
	return c.JSON(s.controller.Stats())
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	s.controller.Stop()
	s.videoHub.PublishEvent(fiber.Map{"type": "stream", "running": false})
	return c.JSON(s.controller.Stats())
}

// handleSnapshot serves the most recently pumped frame.
func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	s.latestMu.RLock()
	frame := s.latest
	s.latestMu.RUnlock()

	if frame.Image == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no frame available",
		})
	}

	switch frame.Format {
	case videoio.FormatJPEG:
		c.Set(fiber.HeaderContentType, "image/jpeg")
	default:
		c.Set(fiber.HeaderContentType, "application/octet-stream")
	}
	return c.Send(frame.Image)
}

// handleVideoWS streams frames to one viewer until it disconnects.
func (s *Server) handleVideoWS(c *websocket.Conn) {
	s.videoHub.Serve(c)
}
