package videoio

// PixelFormat identifies the encoding of a frame's image bytes.
type PixelFormat string

const (
	// FormatJPEG is a JPEG-compressed image.
	FormatJPEG PixelFormat = "jpeg"
	// FormatRaw is an undecoded sensor payload (spatial backend).
	FormatRaw PixelFormat = "raw"
)

// Frame is one decoded image plus its presentation metadata. Ownership
// of Image transfers into the output channel exactly once; producers
// never retain or reuse the slice after emitting.
type Frame struct {
	// Image holds the encoded image bytes.
	Image []byte

	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int

	// Format is the encoding of Image.
	Format PixelFormat

	// Timestamp is the presentation time in microseconds, relative to
	// the start of the producing session.
	Timestamp int64

	// Rotation is the correction angle in degrees that has been, or
	// should be, applied so the frame renders upright.
	Rotation int

	// Sequence is the per-session frame counter, starting at 0.
	Sequence int64
}

// Device describes a discovered camera. Immutable once listed.
type Device struct {
	// ID uniquely identifies the device, e.g. "0" or "/dev/video2".
	ID string `yaml:"id" json:"id"`

	// Label is a human-readable device name.
	Label string `yaml:"label" json:"label"`

	// Facing is the device's physical position.
	Facing Facing `yaml:"facing" json:"facing"`

	// Modes lists the capture modes the device supports.
	Modes []Mode `yaml:"modes,omitempty" json:"modes,omitempty"`
}

// Mode is one supported capture mode.
type Mode struct {
	Width     int     `yaml:"width" json:"width"`
	Height    int     `yaml:"height" json:"height"`
	Framerate float64 `yaml:"framerate" json:"framerate"`
}

// matchDevices returns the devices matching the facing preference,
// preserving discovery order.
func matchDevices(devices []Device, facing Facing) []Device {
	var matched []Device
	for _, d := range devices {
		if d.Facing == facing {
			matched = append(matched, d)
		}
	}
	return matched
}

// pickDevice selects the preferred device ID from the candidates, or
// falls back to the first candidate. Returns false when candidates is
// empty.
func pickDevice(candidates []Device, preferred string) (Device, bool) {
	if len(candidates) == 0 {
		return Device{}, false
	}
	if preferred != "" {
		for _, d := range candidates {
			if d.ID == preferred {
				return d, true
			}
		}
	}
	return candidates[0], true
}

// bestMode returns the mode with the highest vertical resolution.
// Returns false when modes is empty.
func bestMode(modes []Mode) (Mode, bool) {
	if len(modes) == 0 {
		return Mode{}, false
	}
	best := modes[0]
	for _, m := range modes[1:] {
		if m.Height > best.Height {
			best = m
		}
	}
	return best, true
}
