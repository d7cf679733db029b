// Package playback plays assistant PCM through the system speaker.
// The orchestrated provider streams its synthesized voice back over
// the call connection; the CLI wires this sink in so the operator can
// hear it.
package playback

import (
	"log/slog"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/callsensei/callsensei/pkg/core/bridge"
)

// DefaultSampleRate matches the assistant voice stream (s16le mono).
const DefaultSampleRate = 24000

// Config configures a Speaker.
type Config struct {
	// SampleRate defaults to DefaultSampleRate.
	SampleRate int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Speaker buffers inbound PCM and feeds it to an oto player. The
// player is created lazily on the first chunk so a silent call never
// opens an output device stream.
type Speaker struct {
	logger *slog.Logger
	otoCtx *oto.Context
	buf    *pcmBuffer

	mu      sync.Mutex
	player  *oto.Player
	started bool
	closed  bool
}

// New opens the audio output context and returns a ready Speaker.
func New(cfg Config) (*Speaker, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms at 24kHz mono 16-bit keeps latency conversational.
		BufferSize: cfg.SampleRate / 5,
	})
	if err != nil {
		return nil, bridge.NewResourceError("open audio output", err)
	}
	<-ready

	return &Speaker{
		logger: cfg.Logger,
		otoCtx: otoCtx,
		buf:    newPCMBuffer(cfg.SampleRate * 4),
	}, nil
}

// PlayPCM queues one chunk of s16le PCM. Safe to call from the session
// read loop; it never blocks on the output device.
func (s *Speaker) PlayPCM(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.started {
		s.started = true
		s.player = s.otoCtx.NewPlayer(s.buf)
		s.player.Play()
	}
	s.mu.Unlock()

	s.buf.push(pcm)
}

// Close stops playback and releases the player. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	player := s.player
	s.mu.Unlock()

	s.buf.close()
	if player != nil {
		if err := player.Close(); err != nil {
			s.logger.Warn("closing audio player", "error", err)
		}
	}
	return nil
}

// pcmBuffer is the io.Reader the oto player pulls from. Reads block
// until data arrives; after close it yields silence so the device
// drains without underrun noise.
type pcmBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newPCMBuffer(capacity int) *pcmBuffer {
	b := &pcmBuffer{buf: make([]byte, 0, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *pcmBuffer) push(pcm []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.buf = append(b.buf, pcm...)
	b.cond.Signal()
}

func (b *pcmBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.buf) == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.closed && len(b.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (b *pcmBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
