//go:build spatial

package videoio

import (
	"fmt"
	"log/slog"
)

// newCaptureSource is unavailable in spatial builds.
func newCaptureSource(cfg Config, logger *slog.Logger, rotation RotationSource) (Source, error) {
	return nil, fmt.Errorf("capture backend is not available in spatial builds")
}
