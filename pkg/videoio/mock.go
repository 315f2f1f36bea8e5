package videoio

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"
)

// MockSource is a frame source for testing. It honors the same facing
// and device-selection rules as the hardware backends, and produces
// frames either on a timer or by explicit injection via Emit.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	emit     EmitFunc
	stopCh   chan struct{}
	doneCh   chan struct{}
	selected Device
	pattern  []byte

	interval time.Duration
	devices  []Device
	setupErr error
	startErr error
}

// MockOption configures a MockSource.
type MockOption func(*MockSource)

// WithFrameInterval enables timed synthetic frame generation.
func WithFrameInterval(interval time.Duration) MockOption {
	return func(m *MockSource) { m.interval = interval }
}

// WithMockDevices replaces the default simulated device table.
func WithMockDevices(devices []Device) MockOption {
	return func(m *MockSource) { m.devices = devices }
}

// WithSetupError makes Setup fail with err.
func WithSetupError(err error) MockOption {
	return func(m *MockSource) { m.setupErr = err }
}

// WithStartError makes Start fail with err.
func WithStartError(err error) MockOption {
	return func(m *MockSource) { m.startErr = err }
}

// NewMockSource creates a mock frame source. By default it simulates
// one back-facing and one front-facing device and generates no frames
// until Emit is called.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:    cfg,
		logger: logger,
		devices: []Device{
			{ID: "mock-0", Label: "mock back camera", Facing: FacingBack},
			{ID: "mock-1", Label: "mock front camera", Facing: FacingFront},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockSource) Name() string { return "mock" }

func (m *MockSource) Devices() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices
}

// SelectedDevice returns the device chosen during Setup.
func (m *MockSource) SelectedDevice() Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

func (m *MockSource) Setup(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setupErr != nil {
		return m.setupErr
	}
	m.cfg = cfg

	candidates := matchDevices(m.devices, cfg.Facing)
	device, ok := pickDevice(candidates, cfg.Device)
	if !ok {
		return fmt.Errorf("no %s-facing device among %d simulated", cfg.Facing, len(m.devices))
	}
	m.selected = device

	if m.pattern == nil {
		pattern, err := testPattern()
		if err != nil {
			return err
		}
		m.pattern = pattern
	}
	return nil
}

func (m *MockSource) Start(ctx context.Context, emit EmitFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}
	if m.selected.ID == "" {
		return fmt.Errorf("mock session not set up")
	}
	if m.running {
		return nil
	}

	m.running = true
	m.emit = emit
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	if m.interval > 0 {
		go m.generateLoop(ctx, emit, m.stopCh, m.doneCh)
	} else {
		close(m.doneCh)
	}
	return nil
}

func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.emit = nil
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
	return nil
}

// Emit injects one frame as if a producer callback had fired. Frames
// injected while stopped are discarded.
func (m *MockSource) Emit(f Frame) {
	m.mu.Lock()
	emit := m.emit
	m.mu.Unlock()
	if emit != nil {
		emit(f)
	}
}

func (m *MockSource) generateLoop(ctx context.Context, emit EmitFunc, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.interval)
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
			emit(Frame{
				Image:     m.pattern,
				Width:     testPatternSize,
				Height:    testPatternSize,
				Format:    FormatJPEG,
				Timestamp: time.Since(start).Microseconds(),
				Sequence:  sequence,
			})
			sequence++
		}
	}
}

const testPatternSize = 32

// testPattern encodes a small gray checkerboard JPEG once per source.
func testPattern() ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, testPatternSize, testPatternSize))
	for y := 0; y < testPatternSize; y++ {
		for x := 0; x < testPatternSize; x++ {
			if (x/8+y/8)%2 == 0 {
				img.Pix[y*img.Stride+x] = 0xff
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return nil, fmt.Errorf("encode test pattern: %w", err)
	}
	return buf.Bytes(), nil
}

var _ Source = (*MockSource)(nil)
