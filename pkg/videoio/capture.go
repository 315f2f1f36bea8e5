//go:build !spatial

package videoio

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// maxProbeIndex bounds device discovery; V4L2-style device indices are
// probed from 0 up to this value.
const maxProbeIndex = 8

func builtinBackend() Backend { return BackendCapture }

// captureSource acquires frames from a local device through a
// traditional capture session.
type captureSource struct {
	cfg      Config
	logger   *slog.Logger
	rotation RotationSource

	mu      sync.Mutex
	running bool
	cam     *gocv.VideoCapture
	device  Device
	devices []Device
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Latest recommended rotation angle in degrees, re-applied to the
	// output for as long as the session lives.
	angle atomic.Int64
}

func newCaptureSource(cfg Config, logger *slog.Logger, rotation RotationSource) (Source, error) {
	return &captureSource{
		cfg:      cfg,
		logger:   logger,
		rotation: rotation,
	}, nil
}

func (s *captureSource) Name() string { return "capture" }

func (s *captureSource) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices
}

// Setup discovers devices, selects one matching the facing preference
// (preferring the configured device when discovered), and opens it.
func (s *captureSource) Setup(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.devices = discoverDevices(ctx, cfg.DeviceTable)

	candidates := matchDevices(s.devices, cfg.Facing)
	device, ok := pickDevice(candidates, cfg.Device)
	if !ok {
		return fmt.Errorf("no %s-facing device among %d discovered", cfg.Facing, len(s.devices))
	}

	cam, err := openDevice(device.ID)
	if err != nil {
		return fmt.Errorf("open device %s: %w", device.ID, err)
	}

	cam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	cam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	cam.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	if !cam.IsOpened() {
		cam.Close()
		return fmt.Errorf("device %s rejected capture input", device.ID)
	}

	s.cam = cam
	s.device = device

	s.logger.Info("capture session configured",
		"device", device.ID,
		"label", device.Label,
		"facing", device.Facing,
	)
	return nil
}

func (s *captureSource) Start(ctx context.Context, emit EmitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam == nil {
		return fmt.Errorf("capture session not set up")
	}
	if s.running {
		return nil
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	if s.rotation != nil {
		go s.watchRotation(s.stopCh)
	}
	go s.captureLoop(ctx, emit, s.stopCh, s.doneCh)

	return nil
}

// Stop tears down the session, blocking until the capture loop has
// acknowledged shutdown and the device is released.
func (s *captureSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		if s.cam != nil {
			s.cam.Close()
			s.cam = nil
		}
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam != nil {
		s.cam.Close()
		s.cam = nil
	}
	return nil
}

// watchRotation re-applies the platform's recommended rotation angle
// whenever it changes. The subscription lives exactly as long as the
// session.
func (s *captureSource) watchRotation(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case angle, ok := <-s.rotation.Angles():
			if !ok {
				return
			}
			s.angle.Store(int64(angle))
			s.logger.Debug("rotation angle updated", "angle", angle)
		}
	}
}

func (s *captureSource) captureLoop(ctx context.Context, emit EmitFunc, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	frame := gocv.NewMat()
	defer frame.Close()
	rotated := gocv.NewMat()
	defer rotated.Close()

	ticker := time.NewTicker(s.cfg.FrameInterval())
	defer ticker.Stop()

	start := time.Now()
	var sequence int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			cam := s.cam
			s.mu.Unlock()
			if cam == nil {
				return
			}

			if !cam.Read(&frame) || frame.Empty() {
				s.logger.Debug("empty read from device", "device", s.device.ID)
				continue
			}

			angle := int(s.angle.Load())
			out := &frame
			if code, ok := rotateCode(angle); ok {
				gocv.Rotate(frame, &rotated, code)
				out = &rotated
			}

			buf, err := gocv.IMEncode(gocv.JPEGFileExt, *out)
			if err != nil {
				s.logger.Debug("jpeg encode failed", "error", err)
				continue
			}
			img := make([]byte, len(buf.GetBytes()))
			copy(img, buf.GetBytes())
			buf.Close()

			emit(Frame{
				Image:     img,
				Width:     out.Cols(),
				Height:    out.Rows(),
				Format:    FormatJPEG,
				Timestamp: time.Since(start).Microseconds(),
				Rotation:  angle,
				Sequence:  sequence,
			})
			sequence++
		}
	}
}

// rotateCode maps a rotation angle to a gocv rotate code. Angles that
// are not quarter turns are stamped on the frame but not applied.
func rotateCode(angle int) (gocv.RotateFlag, bool) {
	switch ((angle % 360) + 360) % 360 {
	case 90:
		return gocv.Rotate90Clockwise, true
	case 180:
		return gocv.Rotate180Clockwise, true
	case 270:
		return gocv.Rotate90CounterClockwise, true
	default:
		return 0, false
	}
}

// discoverDevices probes capture indices and annotates hits with any
// configured device-table metadata. Facing cannot be probed from V4L2
// hardware, so undeclared devices default to back-facing for index 0
// and external for everything else.
func discoverDevices(ctx context.Context, table []Device) []Device {
	var devices []Device
	for i := 0; i <= maxProbeIndex; i++ {
		if ctx.Err() != nil {
			break
		}
		cam, err := gocv.VideoCaptureDevice(i)
		if err != nil {
			continue
		}
		id := strconv.Itoa(i)
		device := Device{
			ID:     id,
			Label:  fmt.Sprintf("camera %d", i),
			Facing: FacingExternal,
			Modes: []Mode{{
				Width:     int(cam.Get(gocv.VideoCaptureFrameWidth)),
				Height:    int(cam.Get(gocv.VideoCaptureFrameHeight)),
				Framerate: cam.Get(gocv.VideoCaptureFPS),
			}},
		}
		if i == 0 {
			device.Facing = FacingBack
		}
		for _, entry := range table {
			if entry.ID == id {
				device.Facing = entry.Facing
				if entry.Label != "" {
					device.Label = entry.Label
				}
				break
			}
		}
		cam.Close()
		devices = append(devices, device)
	}
	return devices
}

func openDevice(id string) (*gocv.VideoCapture, error) {
	if idx, err := strconv.Atoi(id); err == nil {
		return gocv.VideoCaptureDevice(idx)
	}
	return gocv.OpenVideoCapture(id)
}
