package bridge

import (
	"context"
	"log/slog"
	"time"
)

// Adapter opens streaming sessions against one provider backend and
// normalizes its callbacks into the bridge Event set.
type Adapter interface {
	// Name identifies the provider (for logs and metrics labels only;
	// the controller never branches on it).
	Name() string

	// Validate checks pre-flight configuration such as credentials. A
	// returned error must be a config error; no network attempt may be
	// made.
	Validate() error

	// Connect opens a session. emit delivers normalized events from the
	// session's own goroutines; implementations must not call emit
	// synchronously from Session.Close. A connection failure during
	// establishment is returned directly (not emitted).
	Connect(ctx context.Context, emit func(Event)) (Session, error)
}

// Session is the opaque handle to one live provider connection. The
// controller only ever sends frames, acks, and closes it.
type Session interface {
	// SendAudioFrame transmits one s16le PCM frame at the wire sample
	// rate. Fire-and-forget; failures are logged by the caller.
	SendAudioFrame(pcm []byte) error

	// SendToolAck acknowledges a tool invocation, correlated by call ID.
	// Providers whose protocol has no tool-response concept return nil.
	SendToolAck(callID, name string) error

	// Close tears the connection down. Idempotent, best-effort.
	Close() error
}

// AckRequirer is implemented by adapters whose protocol expects a tool
// result before the model continues. The controller only sends acks for
// these.
type AckRequirer interface {
	RequiresAck() bool
}

// CapturePipeline delivers fixed-size frames of raw mono audio from the
// operating environment. Implementations must not apply echo
// cancellation, noise suppression, or automatic gain control.
type CapturePipeline interface {
	// Start begins frame delivery. onFrame receives FrameSize samples at
	// the device sample rate and must not block.
	Start(onFrame func(samples []float32, sampleRate int)) error

	// Close stops delivery and releases the underlying input stream.
	// Idempotent, best-effort.
	Close() error
}

// CaptureFactory builds a capture pipeline at connect time.
type CaptureFactory func() (CapturePipeline, error)

// Observer receives bridge-level measurements. The zero value of the
// controller uses a no-op observer; pkg/metrics provides a Prometheus
// implementation.
type Observer interface {
	SessionStarted(provider string)
	SessionEnded(provider string, terminal Status, duration time.Duration)
	FrameSent(bytes int)
	AnalysisAccepted(emotion Emotion)
	ValidationFailure()
	LateEventDropped()
}

type nopObserver struct{}

func (nopObserver) SessionStarted(string)                      {}
func (nopObserver) SessionEnded(string, Status, time.Duration) {}
func (nopObserver) FrameSent(int)                              {}
func (nopObserver) AnalysisAccepted(Emotion)                   {}
func (nopObserver) ValidationFailure()                         {}
func (nopObserver) LateEventDropped()                          {}

// ResetPolicy decides what happens to the previous session's analysis
// state when a new connection attempt starts.
type ResetPolicy string

const (
	// ResetOnConnect clears history, current analysis, and transcript at
	// the start of every connection attempt.
	ResetOnConnect ResetPolicy = "reset_on_connect"

	// PreserveUntilUpdate keeps the last session's current analysis and
	// history visible until the new session produces a record; only the
	// transcript is cleared.
	PreserveUntilUpdate ResetPolicy = "preserve_until_update"
)

// DefaultConnectTimeout bounds session establishment when the caller's
// context carries no deadline.
const DefaultConnectTimeout = 15 * time.Second

// DefaultFrameSize is the capture frame size in samples.
const DefaultFrameSize = 4096

// Config configures a Controller.
type Config struct {
	// Adapter is the provider backend. Required.
	Adapter Adapter

	// Capture builds the audio input pipeline at connect time. Required
	// for audio streaming; a controller without one processes inbound
	// events only.
	Capture CaptureFactory

	// Mode is the initial lifecycle policy. Defaults to ModeContinuous.
	Mode Mode

	// ResetPolicy defaults to ResetOnConnect.
	ResetPolicy ResetPolicy

	// ConnectTimeout defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// UpdateBuffer sizes the Updates channel. Defaults to 64.
	UpdateBuffer int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Observer defaults to a no-op.
	Observer Observer
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeContinuous
	}
	if c.ResetPolicy == "" {
		c.ResetPolicy = ResetOnConnect
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}
