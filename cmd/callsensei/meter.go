package main

import (
	"math"
	"strings"
	"sync/atomic"

	"github.com/callsensei/callsensei/pkg/capture"
	"github.com/callsensei/callsensei/pkg/core/bridge"
	"github.com/callsensei/callsensei/pkg/core/pcm"
)

// levelMeter taps the capture stream and tracks the most recent frame's
// RMS energy so the console can render a mic level bar.
type levelMeter struct {
	level atomic.Uint64 // math.Float64bits
}

// factory wraps the capture pipeline so every frame updates the meter
// before reaching the bridge.
func (m *levelMeter) factory(cfg capture.Config) bridge.CaptureFactory {
	inner := capture.Factory(cfg)
	return func() (bridge.CapturePipeline, error) {
		p, err := inner()
		if err != nil {
			return nil, err
		}
		return &meteredPipeline{inner: p, meter: m}, nil
	}
}

func (m *levelMeter) observe(samples []float32) {
	m.level.Store(math.Float64bits(pcm.RMSEnergy(pcm.EncodeSamples(samples))))
}

// bar renders the current level as a fixed-width meter.
func (m *levelMeter) bar(width int) string {
	level := math.Float64frombits(m.level.Load())
	// RMS of conversational speech sits well under full scale; scale up
	// so normal levels reach mid-bar.
	filled := int(level * 4 * float64(width))
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

type meteredPipeline struct {
	inner bridge.CapturePipeline
	meter *levelMeter
}

func (p *meteredPipeline) Start(onFrame func(samples []float32, sampleRate int)) error {
	return p.inner.Start(func(samples []float32, sampleRate int) {
		p.meter.observe(samples)
		onFrame(samples, sampleRate)
	})
}

func (p *meteredPipeline) Close() error { return p.inner.Close() }
