// Package pcm converts captured floating-point audio into the 16-bit
// little-endian PCM wire format used by live voice providers, and frames
// it for JSON transport.
//
// All functions are pure and allocation-per-call; none of them keep state.
package pcm

import (
	"encoding/base64"
	"math"
)

// DefaultTargetRate is the sample rate the live wire protocols expect.
const DefaultTargetRate = 16000

// EncodeSamples maps float samples in [-1, 1] to signed 16-bit
// little-endian PCM. Negative samples scale by 32768 and non-negative
// samples by 32767 so both endpoints of the int16 range are reachable.
// Out-of-range inputs are clamped first.
func EncodeSamples(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(float64(s) * 32768)
		} else {
			v = int16(float64(s) * 32767)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

// DecodeSamples is the inverse of EncodeSamples: s16le PCM back to
// floats in [-1, 1]. A trailing odd byte is ignored.
func DecodeSamples(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		if v < 0 {
			out[i] = float32(float64(v) / 32768)
		} else {
			out[i] = float32(float64(v) / 32767)
		}
	}
	return out
}

// Downsample decimates samples from sourceRate to targetRate by
// nearest-lower-index selection. When the rates match the input slice is
// returned unchanged. No anti-aliasing filter is applied; for voice-band
// speech the simplicity is an acceptable tradeoff.
func Downsample(samples []float32, sourceRate, targetRate int) []float32 {
	if sourceRate == targetRate {
		return samples
	}
	ratio := float64(sourceRate) / float64(targetRate)
	n := int(math.Ceil(float64(len(samples)) / ratio))
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		idx := int(math.Floor(float64(i) * ratio))
		if idx < len(samples) {
			out[i] = samples[idx]
		}
	}
	return out
}

// TransportEncode frames a PCM buffer for embedding in a JSON message.
// Standard base64, no line wrapping.
func TransportEncode(buf []byte) string {
	return base64.StdEncoding.EncodeToString(buf)
}

// TransportDecode reverses TransportEncode.
func TransportDecode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// RMSEnergy computes the root-mean-square energy of s16le PCM,
// normalized to 0..1. Used for input level metering.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}
