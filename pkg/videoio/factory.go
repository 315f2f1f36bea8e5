package videoio

import (
	"fmt"
	"log/slog"
)

// NewSource creates a frame source for the given configuration. With
// BackendAuto the backend compiled into this build is selected. The
// rotation source may be nil; it is only consulted by the capture
// backend.
func NewSource(cfg Config, logger *slog.Logger, rotation RotationSource) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return newSource(cfg, logger, rotation)
}

func newSource(cfg Config, logger *slog.Logger, rotation RotationSource) (Source, error) {
	backend := cfg.Backend
	if backend == BackendAuto {
		backend = builtinBackend()
	}

	logger.Info("creating frame source",
		"backend", backend,
		"facing", cfg.Facing,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"framerate", cfg.Framerate,
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendCapture:
		return newCaptureSource(cfg, logger, rotation)
	case BackendSpatial:
		return newSpatialSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// AvailableBackends returns the backends usable in this build.
func AvailableBackends() []Backend {
	return []Backend{BackendMock, builtinBackend()}
}
