// internal/source/capture.go
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"
)

var (
	ErrNotInitialized = errors.New("audio capture not initialized")
	ErrAlreadyRunning = errors.New("audio capture already running")
	ErrNotRunning     = errors.New("audio capture not running")
)

// CaptureConfig holds live capture configuration
type CaptureConfig struct {
	// DeviceIndex selects the capture device, -1 for default (from config: device_index)
	DeviceIndex int
	// SampleRate in Hz (from config: sample_rate)
	SampleRate uint32
	// Channels captured; mixed down to mono before analysis (from config: channels)
	Channels uint32
	// TransformSize is the FFT size (from config: transform_size)
	TransformSize int
	// Smoothing is the temporal smoothing factor for the byte spectrum
	// (from config: smoothing)
	Smoothing float64
}

// DefaultCaptureConfig returns sensible defaults for music input.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		DeviceIndex:   -1,
		SampleRate:    44100,
		Channels:      1,
		TransformSize: 2048,
		Smoothing:     0.5,
	}
}

// Capture is a live Source: it records from an audio device and maintains a
// continuously refreshed byte magnitude spectrum. Frames are accumulated into
// a mono sample buffer on the audio thread; each time a full transform window
// is available it is analyzed with 50% overlap and the latest spectrum
// replaces the previous one.
type Capture struct {
	config CaptureConfig

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.RWMutex
	running bool
	hasData bool
	buf     []float64
	pipe    *pipeline
	bands   []byte
}

// NewCapture creates a live capture source.
func NewCapture(cfg CaptureConfig) *Capture {
	return &Capture{
		config: cfg,
		pipe:   newPipeline(cfg.TransformSize, cfg.Smoothing),
		bands:  make([]byte, cfg.TransformSize/2),
		buf:    make([]float64, 0, cfg.TransformSize*2),
	}
}

// Init initializes the audio backend.
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx
	return nil
}

// ListDevices returns available capture devices.
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ctx == nil {
		return nil, ErrNotInitialized
	}
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return infos, nil
}

// Start begins audio capture. Capture stops when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.ctx == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.mu.Unlock()

	deviceConfig := malgo.DeviceConfig{
		DeviceType:         malgo.Capture,
		SampleRate:         c.config.SampleRate,
		PeriodSizeInFrames: uint32(c.config.TransformSize / 2),
		Capture: malgo.SubConfig{
			Format:   malgo.FormatF32,
			Channels: c.config.Channels,
		},
	}

	if c.config.DeviceIndex >= 0 {
		devices, err := c.ListDevices()
		if err != nil {
			return err
		}
		if c.config.DeviceIndex >= len(devices) {
			return fmt.Errorf("device index %d out of range (have %d devices)",
				c.config.DeviceIndex, len(devices))
		}
		deviceConfig.Capture.DeviceID = devices[c.config.DeviceIndex].ID.Pointer()
	}

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: func(_, inputSamples []byte, frameCount uint32) {
			if len(inputSamples) == 0 {
				return
			}
			c.ingest(bytesToFloat32(inputSamples))
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	c.mu.Lock()
	c.device = device
	c.running = true
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// ingest mixes interleaved samples to mono, appends them to the window
// buffer, and analyzes every complete transform window with 50% overlap.
// Runs on the audio thread, so the held work is a bounded FFT.
func (c *Capture) ingest(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := int(c.config.Channels)
	if ch <= 1 {
		for _, s := range samples {
			c.buf = append(c.buf, float64(s))
		}
	} else {
		for i := 0; i+ch <= len(samples); i += ch {
			var sum float64
			for j := 0; j < ch; j++ {
				sum += float64(samples[i+j])
			}
			c.buf = append(c.buf, sum/float64(ch))
		}
	}

	size := c.config.TransformSize
	hop := size / 2
	for len(c.buf) >= size {
		c.pipe.process(c.buf[:size])
		c.pipe.bytes(c.bands)
		c.hasData = true

		copy(c.buf, c.buf[hop:])
		c.buf = c.buf[:len(c.buf)-hop]
	}
}

// Ready reports whether at least one spectrum has been produced.
func (c *Capture) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running && c.hasData
}

// FrequencyData copies the latest byte spectrum into dst.
func (c *Capture) FrequencyData(dst []byte) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.hasData {
		return 0
	}
	n := len(c.bands)
	if len(dst) < n {
		n = len(dst)
	}
	copy(dst[:n], c.bands[:n])
	return n
}

// SampleRate returns the capture sample rate in Hz.
func (c *Capture) SampleRate() float64 {
	return float64(c.config.SampleRate)
}

// TransformSize returns the FFT size behind the spectrum.
func (c *Capture) TransformSize() int {
	return c.config.TransformSize
}

// Stop stops audio capture.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	c.running = false
	return nil
}

// Close releases all audio resources.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running && c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
		c.running = false
	}
	if c.ctx != nil {
		if err := c.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninit context: %w", err)
		}
		c.ctx.Free()
		c.ctx = nil
	}
	return nil
}

// IsRunning returns true if capture is active.
func (c *Capture) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// bytesToFloat32 converts raw little-endian float32 bytes to samples.
func bytesToFloat32(data []byte) []float32 {
	numSamples := len(data) / 4
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		offset := i * 4
		bits := uint32(data[offset]) |
			uint32(data[offset+1])<<8 |
			uint32(data[offset+2])<<16 |
			uint32(data[offset+3])<<24
		samples[i] = float32frombits(bits)
	}
	return samples
}

// float32frombits converts IEEE 754 binary representation to float32
func float32frombits(b uint32) float32 {
	return *(*float32)(unsafe.Pointer(&b))
}
