package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/callsensei/callsensei/pkg/core/pcm"
)

// Controller orchestrates one live analysis session at a time: it owns
// the connection lifecycle, the mode policy, the event-processing gate,
// and the externally observed session state. It is the only component
// the presentation layer touches.
type Controller struct {
	cfg Config

	// dispatchMu serializes inbound event processing so state mutations
	// happen on one logical processing turn at a time.
	dispatchMu sync.Mutex

	mu    sync.RWMutex
	state sessionState
	mode  Mode
	conn  *connState

	updates chan Update
}

// connState is the per-connection lifecycle state. The gate is the sole
// cancellation mechanism: once closed, no event delivered afterwards may
// mutate session state or trigger a send.
type connState struct {
	id        string
	mode      Mode // read once at connect time
	startedAt time.Time

	gate         atomic.Bool
	opened       atomic.Bool
	teardownOnce sync.Once

	capture CapturePipeline

	sessMu  sync.Mutex
	session Session

	frames chan []byte
	done   chan struct{}
}

func (cs *connState) setSession(s Session) {
	cs.sessMu.Lock()
	cs.session = s
	cs.sessMu.Unlock()
}

func (cs *connState) getSession() Session {
	cs.sessMu.Lock()
	defer cs.sessMu.Unlock()
	return cs.session
}

// New creates a Controller. The adapter is required.
func New(cfg Config) (*Controller, error) {
	if cfg.Adapter == nil {
		return nil, NewConfigError("adapter must not be nil")
	}
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:     cfg,
		mode:    cfg.Mode,
		updates: make(chan Update, cfg.UpdateBuffer),
		state:   sessionState{status: StatusDisconnected},
	}, nil
}

// Updates yields state-change notifications for rendering and
// recording. Slow consumers miss updates rather than blocking the
// bridge; the getters always reflect current state.
func (c *Controller) Updates() <-chan Update {
	return c.updates
}

// Status returns the current connection status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.status
}

// CurrentAnalysis returns a copy of the most recent analysis, or nil.
func (c *Controller) CurrentAnalysis() *AnalysisRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.current == nil {
		return nil
	}
	rec := *c.state.current
	return &rec
}

// History returns a copy of the bounded analysis history, oldest first.
func (c *Controller) History() []AnalysisRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]AnalysisRecord(nil), c.state.history...)
}

// Transcript returns the accumulated caller transcript.
func (c *Controller) Transcript() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.transcript
}

// Mode returns the current lifecycle policy.
func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode changes the lifecycle policy for the next session. Mode is
// read at connect time; changes while a session is active are ignored.
func (c *Controller) SetMode(m Mode) {
	if m != ModeContinuous && m != ModeSingleShot {
		c.cfg.Logger.Warn("ignoring unknown mode", "mode", string(m))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.status == StatusConnected || c.state.status == StatusConnecting {
		c.cfg.Logger.Warn("ignoring mode change while session active", "mode", string(m))
		return
	}
	c.mode = m
}

// SessionID returns the identifier of the active session, or "".
func (c *Controller) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.id
}

// Connect starts a new session: resets the observable state per the
// reset policy, acquires the capture pipeline, and opens the provider
// session. It returns once establishment is underway; the connected
// transition arrives through the adapter's opened event. Configuration
// problems are detected pre-flight and surface as an immediate error
// status with no network attempt.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state.status == StatusConnecting || c.state.status == StatusConnected {
		c.mu.Unlock()
		return NewConfigError("session already active")
	}
	if err := c.cfg.Adapter.Validate(); err != nil {
		c.state.status = StatusError
		c.mu.Unlock()
		c.pushUpdate(StatusUpdate{Status: StatusError})
		c.cfg.Logger.Error("pre-flight validation failed", "provider", c.cfg.Adapter.Name(), "error", err)
		return err
	}

	switch c.cfg.ResetPolicy {
	case PreserveUntilUpdate:
		c.state.transcript = ""
		c.state.preserved = true
	default:
		c.state.reset()
	}

	conn := &connState{
		id:        uuid.NewString(),
		mode:      c.mode,
		startedAt: time.Now(),
		frames:    make(chan []byte, 8),
		done:      make(chan struct{}),
	}
	conn.gate.Store(true)
	c.conn = conn
	c.state.status = StatusConnecting
	c.mu.Unlock()
	c.pushUpdate(StatusUpdate{Status: StatusConnecting})

	if c.cfg.Capture != nil {
		capture, err := c.cfg.Capture()
		if err == nil {
			conn.capture = capture
			err = capture.Start(func(samples []float32, sampleRate int) {
				c.onFrame(conn, samples, sampleRate)
			})
		}
		if err != nil {
			c.cfg.Logger.Error("audio capture unavailable", "error", err)
			c.teardown(conn, StatusError)
			return NewResourceError("acquire capture pipeline", err)
		}
	}

	go c.sendLoop(conn)
	go c.open(ctx, conn)
	return nil
}

// Disconnect closes the event gate first, so racing callbacks are
// ignored, then releases resources and reports the disconnected status.
// Safe to call at any time, from any state.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.gate.Store(false)
		c.teardown(conn, StatusDisconnected)
		return
	}

	c.mu.Lock()
	changed := c.state.status != StatusDisconnected
	c.state.status = StatusDisconnected
	c.mu.Unlock()
	if changed {
		c.pushUpdate(StatusUpdate{Status: StatusDisconnected})
	}
}

func (c *Controller) open(ctx context.Context, conn *connState) {
	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	session, err := c.cfg.Adapter.Connect(dialCtx, func(ev Event) {
		c.handleEvent(conn, ev)
	})
	if err != nil {
		c.handleEvent(conn, ErroredEvent{Cause: err})
		return
	}
	conn.setSession(session)
	// Teardown may have run while the dial was in flight, before the
	// handle was stored; it found nothing to close, so close here.
	if !conn.gate.Load() {
		_ = session.Close()
	}
}

// onFrame is the capture pipeline's push callback. Frames produced
// while no session is connected, or after the gate closed, are dropped.
// The callback never blocks: encoding happens inline, the network send
// on the per-connection sender goroutine.
func (c *Controller) onFrame(conn *connState, samples []float32, sampleRate int) {
	if !conn.gate.Load() || conn.getSession() == nil {
		return
	}
	down := pcm.Downsample(samples, sampleRate, pcm.DefaultTargetRate)
	frame := pcm.EncodeSamples(down)
	select {
	case conn.frames <- frame:
	default:
		// Sender is behind; dropping beats unbounded queueing.
	}
}

// sendLoop transmits frames in capture order, fire-and-forget.
func (c *Controller) sendLoop(conn *connState) {
	for {
		select {
		case <-conn.done:
			return
		case frame := <-conn.frames:
			if !conn.gate.Load() {
				continue
			}
			session := conn.getSession()
			if session == nil {
				continue
			}
			if err := session.SendAudioFrame(frame); err != nil {
				c.cfg.Logger.Debug("audio frame send failed", "error", err)
				continue
			}
			c.cfg.Observer.FrameSent(len(frame))
		}
	}
}

// handleEvent is the single dispatch point for normalized provider
// events. The gate is checked before and after acquiring the dispatch
// lock: a callback must never assume no other callback ran since it was
// scheduled.
func (c *Controller) handleEvent(conn *connState, ev Event) {
	if !conn.gate.Load() {
		c.cfg.Observer.LateEventDropped()
		return
	}
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	if !conn.gate.Load() {
		c.cfg.Observer.LateEventDropped()
		return
	}

	switch ev := ev.(type) {
	case OpenedEvent:
		c.mu.Lock()
		opened := c.state.status == StatusConnecting
		if opened {
			c.state.status = StatusConnected
		}
		c.mu.Unlock()
		if opened {
			conn.opened.Store(true)
			c.cfg.Logger.Info("session connected", "provider", c.cfg.Adapter.Name(), "session_id", conn.id, "mode", string(conn.mode))
			c.cfg.Observer.SessionStarted(c.cfg.Adapter.Name())
			c.pushUpdate(StatusUpdate{Status: StatusConnected})
		}

	case TranscriptEvent:
		if ev.Text == "" {
			return
		}
		c.mu.Lock()
		c.state.transcript += ev.Text
		c.mu.Unlock()
		c.pushUpdate(TranscriptUpdate{Fragment: ev.Text})

	case ToolInvokedEvent:
		c.handleToolInvoked(conn, ev)

	case ErroredEvent:
		c.cfg.Logger.Error("session errored", "provider", c.cfg.Adapter.Name(), "session_id", conn.id, "error", ev.Cause)
		c.teardown(conn, StatusError)

	case ClosedEvent:
		c.cfg.Logger.Info("session closed by provider", "session_id", conn.id, "reason", ev.Reason)
		c.teardown(conn, StatusDisconnected)
	}
}

// handleToolInvoked routes one tool call through the interpreter and,
// on success, updates current/history and acknowledges receipt when the
// provider's protocol requires it. The gate is re-checked at ack-send
// time because teardown may race ahead of the asynchronous ack.
func (c *Controller) handleToolInvoked(conn *connState, ev ToolInvokedEvent) {
	if ev.Name != ToolName {
		c.cfg.Logger.Debug("ignoring unknown tool invocation", "tool", ev.Name)
		return
	}

	rec, err := ParseAnalysis(ev.Args, time.Now())
	if err != nil {
		c.cfg.Logger.Warn("rejecting tool payload", "tool", ev.Name, "call_id", ev.CallID, "error", err)
		c.cfg.Observer.ValidationFailure()
		return
	}

	c.mu.Lock()
	c.state.append(*rec)
	c.mu.Unlock()
	c.cfg.Observer.AnalysisAccepted(rec.Emotion)
	c.pushUpdate(AnalysisUpdate{SessionID: conn.id, Record: *rec})

	if requiresAck(c.cfg.Adapter) {
		session := conn.getSession()
		go func() {
			if session == nil || !conn.gate.Load() {
				return
			}
			if err := session.SendToolAck(ev.CallID, ev.Name); err != nil {
				c.cfg.Logger.Debug("tool ack send failed", "call_id", ev.CallID, "error", err)
			}
		}()
	}

	if conn.mode == ModeSingleShot {
		c.cfg.Logger.Info("single shot analysis complete, disconnecting", "session_id", conn.id)
		conn.gate.Store(false)
		c.teardown(conn, StatusDisconnected)
	}
}

// teardown runs the release sequence exactly once per connection. Every
// step is independent and best-effort: a failure in one never blocks
// the others, and teardown always reaches a terminal status.
func (c *Controller) teardown(conn *connState, terminal Status) {
	conn.gate.Store(false)
	conn.teardownOnce.Do(func() {
		close(conn.done)

		if conn.capture != nil {
			if err := conn.capture.Close(); err != nil {
				c.cfg.Logger.Warn("capture release failed", "error", NewResourceError("close capture pipeline", err))
			}
		}
		if session := conn.getSession(); session != nil {
			if err := session.Close(); err != nil {
				c.cfg.Logger.Warn("session close failed", "error", NewResourceError("close provider session", err))
			}
		}

		c.mu.Lock()
		active := c.conn == conn
		if active {
			c.conn = nil
			c.state.status = terminal
		}
		c.mu.Unlock()
		if active {
			c.pushUpdate(StatusUpdate{Status: terminal})
			// Started/ended must pair up for the active-sessions gauge:
			// a connection torn down before it opened was never started.
			if conn.opened.Load() {
				c.cfg.Observer.SessionEnded(c.cfg.Adapter.Name(), terminal, time.Since(conn.startedAt))
			}
		}
	})
}

func requiresAck(a Adapter) bool {
	if r, ok := a.(AckRequirer); ok {
		return r.RequiresAck()
	}
	return false
}

// pushUpdate never blocks; slow consumers miss intermediate updates.
func (c *Controller) pushUpdate(u Update) {
	select {
	case c.updates <- u:
	default:
	}
}
