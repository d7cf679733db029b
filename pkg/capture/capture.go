// Package capture acquires raw microphone audio through malgo and
// delivers it as fixed-size float frames. The device is opened without
// echo cancellation, noise suppression, or gain control: the analysis
// depends on acoustic features those would distort.
package capture

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/callsensei/callsensei/pkg/core/bridge"
)

// Config configures the microphone pipeline.
type Config struct {
	// SampleRate is the capture rate in Hz. Defaults to 48000; the
	// bridge downsamples to the wire rate.
	SampleRate int

	// FrameSize is the per-callback frame size in samples. Defaults to
	// bridge.DefaultFrameSize.
	FrameSize int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.FrameSize <= 0 {
		c.FrameSize = bridge.DefaultFrameSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Pipeline is a malgo-backed bridge.CapturePipeline.
type Pipeline struct {
	cfg Config

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	pending []float32
	closed  bool
}

// New creates an unstarted pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg.withDefaults()}
}

// Factory returns a bridge.CaptureFactory building pipelines with cfg.
func Factory(cfg Config) bridge.CaptureFactory {
	return func() (bridge.CapturePipeline, error) {
		p := New(cfg)
		return p, nil
	}
}

// Start opens the default mono capture device and begins delivering
// FrameSize-sample frames to onFrame. onFrame runs on the audio thread
// and must not block.
func (p *Pipeline) Start(onFrame func(samples []float32, sampleRate int)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return bridge.NewResourceError("pipeline already closed", nil)
	}
	if p.device != nil {
		return bridge.NewResourceError("pipeline already started", nil)
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return bridge.NewResourceError("init audio context", err)
	}
	p.ctx = malgoCtx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(p.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			p.onData(pInputSamples, onFrame)
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = malgoCtx.Uninit()
		p.ctx = nil
		return bridge.NewResourceError("init capture device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		p.ctx = nil
		return bridge.NewResourceError("start capture device", err)
	}
	p.device = device
	p.cfg.Logger.Debug("capture started", "sample_rate", p.cfg.SampleRate, "frame_size", p.cfg.FrameSize)
	return nil
}

// onData accumulates f32le device samples and flushes full frames.
func (p *Pipeline) onData(data []byte, onFrame func([]float32, int)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	for i := 0; i+4 <= len(data); i += 4 {
		bits := binary.LittleEndian.Uint32(data[i:])
		p.pending = append(p.pending, math.Float32frombits(bits))
	}
	var frames [][]float32
	for len(p.pending) >= p.cfg.FrameSize {
		frame := make([]float32, p.cfg.FrameSize)
		copy(frame, p.pending[:p.cfg.FrameSize])
		p.pending = p.pending[p.cfg.FrameSize:]
		frames = append(frames, frame)
	}
	rate := p.cfg.SampleRate
	p.mu.Unlock()

	for _, frame := range frames {
		onFrame(frame, rate)
	}
}

// Close stops frame delivery, then releases the device and the audio
// context. Each step is independent and best-effort; Close is
// idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	device := p.device
	ctx := p.ctx
	p.device = nil
	p.ctx = nil
	p.pending = nil
	// Device teardown happens outside the lock: the data callback may be
	// blocked on it while Stop waits for the callback to return.
	p.mu.Unlock()

	if device != nil {
		if err := device.Stop(); err != nil {
			p.cfg.Logger.Warn("capture device stop failed", "error", err)
		}
		device.Uninit()
	}
	if ctx != nil {
		if err := ctx.Uninit(); err != nil {
			p.cfg.Logger.Warn("audio context release failed", "error", err)
		}
	}
	return nil
}
