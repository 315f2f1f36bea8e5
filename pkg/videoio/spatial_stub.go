//go:build !spatial

package videoio

import (
	"fmt"
	"log/slog"
)

// newSpatialSource is only available in builds with the spatial tag.
func newSpatialSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("spatial backend requires a spatial build")
}
