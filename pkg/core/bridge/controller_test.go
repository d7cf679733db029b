package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSession records sends so tests can assert on wire activity.
type fakeSession struct {
	mu     sync.Mutex
	frames [][]byte
	acks   []string
	closes int
}

func (s *fakeSession) SendAudioFrame(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), pcm...))
	return nil
}

func (s *fakeSession) SendToolAck(callID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, callID)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) ackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acks)
}

func (s *fakeSession) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeAdapter struct {
	validateErr error
	connectErr  error
	needsAck    bool

	// dialGate, when set, blocks Connect until closed so tests can race
	// other calls against an in-flight dial.
	dialGate chan struct{}

	mu        sync.Mutex
	emit      func(Event)
	session   *fakeSession
	connected int
	dialing   int
}

func (a *fakeAdapter) Name() string      { return "fake" }
func (a *fakeAdapter) RequiresAck() bool { return a.needsAck }
func (a *fakeAdapter) Validate() error   { return a.validateErr }

func (a *fakeAdapter) Connect(ctx context.Context, emit func(Event)) (Session, error) {
	a.mu.Lock()
	a.dialing++
	a.mu.Unlock()
	if a.dialGate != nil {
		<-a.dialGate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected++
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	a.emit = emit
	a.session = &fakeSession{}
	return a.session, nil
}

func (a *fakeAdapter) sessionHandle() *fakeSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *fakeAdapter) emitEvent(ev Event) {
	a.mu.Lock()
	emit := a.emit
	a.mu.Unlock()
	emit(ev)
}

func (a *fakeAdapter) connectCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *fakeAdapter) dialCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dialing
}

// countingObserver tracks started/ended pairing for gauge semantics.
type countingObserver struct {
	mu      sync.Mutex
	started int
	ended   int
}

func (o *countingObserver) SessionStarted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) SessionEnded(string, Status, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended++
}

func (o *countingObserver) FrameSent(int)            {}
func (o *countingObserver) AnalysisAccepted(Emotion) {}
func (o *countingObserver) ValidationFailure()       {}
func (o *countingObserver) LateEventDropped()        {}

func (o *countingObserver) counts() (started, ended int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started, o.ended
}

type fakeCapture struct {
	mu      sync.Mutex
	onFrame func([]float32, int)
	closes  int
}

func (f *fakeCapture) Start(onFrame func(samples []float32, sampleRate int)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFrame = onFrame
	return nil
}

func (f *fakeCapture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeCapture) push(samples []float32, rate int) {
	f.mu.Lock()
	cb := f.onFrame
	f.mu.Unlock()
	if cb != nil {
		cb(samples, rate)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestController(t *testing.T, adapter *fakeAdapter, capture *fakeCapture, mode Mode) *Controller {
	t.Helper()
	cfg := Config{Adapter: adapter, Mode: mode}
	if capture != nil {
		cfg.Capture = func() (CapturePipeline, error) { return capture, nil }
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// connect drives an adapter through establishment and the opened event.
func connect(t *testing.T, c *Controller, adapter *fakeAdapter) {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return adapter.emit != nil
	}, "adapter was never dialed")
	waitFor(t, func() bool {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		return conn != nil && conn.getSession() != nil
	}, "session handle never stored")
	adapter.emitEvent(OpenedEvent{})
	waitFor(t, func() bool { return c.Status() == StatusConnected }, "never reached connected")
}

func TestConnectLifecycle(t *testing.T) {
	adapter := &fakeAdapter{}
	c := newTestController(t, adapter, nil, ModeContinuous)

	if c.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected start, got %s", c.Status())
	}
	connect(t, c, adapter)

	c.Disconnect()
	if c.Status() != StatusDisconnected {
		t.Errorf("expected disconnected, got %s", c.Status())
	}
	waitFor(t, func() bool { return adapter.session.closeCount() == 1 }, "session was not closed")
}

func TestConnectMissingCredentialIsImmediateError(t *testing.T) {
	adapter := &fakeAdapter{validateErr: NewConfigError("missing API key")}
	c := newTestController(t, adapter, nil, ModeContinuous)

	err := c.Connect(context.Background())
	if err == nil || !IsType(err, ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if c.Status() != StatusError {
		t.Errorf("expected error status, got %s", c.Status())
	}
	if adapter.connectCalls() != 0 {
		t.Error("no network attempt may be made on a configuration error")
	}
}

func TestConnectFailureTransitionsToError(t *testing.T) {
	adapter := &fakeAdapter{connectErr: NewTransportError("dial", errors.New("refused"))}
	c := newTestController(t, adapter, nil, ModeContinuous)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, func() bool { return c.Status() == StatusError }, "never reached error status")

	// Error is recoverable by reconnecting.
	adapter.connectErr = nil
	connect(t, c, adapter)
}

func TestToolInvocationUpdatesStateAndAcks(t *testing.T) {
	adapter := &fakeAdapter{needsAck: true}
	c := newTestController(t, adapter, nil, ModeContinuous)
	connect(t, c, adapter)

	adapter.emitEvent(ToolInvokedEvent{Name: ToolName, CallID: "call-1", Args: validArgs()})

	cur := c.CurrentAnalysis()
	if cur == nil || cur.Emotion != EmotionAnger {
		t.Fatalf("expected current analysis, got %+v", cur)
	}
	if got := len(c.History()); got != 1 {
		t.Errorf("expected 1 history entry, got %d", got)
	}
	if c.Status() != StatusConnected {
		t.Errorf("session must stay connected, got %s", c.Status())
	}
	waitFor(t, func() bool { return adapter.session.ackCount() == 1 }, "ack was never sent")
}

func TestInvalidToolPayloadIsNonFatal(t *testing.T) {
	adapter := &fakeAdapter{needsAck: true}
	c := newTestController(t, adapter, nil, ModeContinuous)
	connect(t, c, adapter)

	args := validArgs()
	delete(args, "confidence")
	adapter.emitEvent(ToolInvokedEvent{Name: ToolName, CallID: "call-1", Args: args})

	if c.CurrentAnalysis() != nil {
		t.Error("rejected payload must not produce a record")
	}
	if len(c.History()) != 0 {
		t.Error("rejected payload must not enter history")
	}
	if c.Status() != StatusConnected {
		t.Errorf("status must be unchanged, got %s", c.Status())
	}
}

func TestSingleShotTearsDownOnceDespiteBackToBackEvents(t *testing.T) {
	adapter := &fakeAdapter{needsAck: true}
	c := newTestController(t, adapter, nil, ModeSingleShot)
	connect(t, c, adapter)

	adapter.emitEvent(ToolInvokedEvent{Name: ToolName, CallID: "call-1", Args: validArgs()})
	adapter.emitEvent(ToolInvokedEvent{Name: ToolName, CallID: "call-2", Args: validArgs()})

	if got := len(c.History()); got != 1 {
		t.Errorf("second back-to-back invocation must be ignored, history has %d", got)
	}
	if c.Status() != StatusDisconnected {
		t.Errorf("expected disconnected after single shot, got %s", c.Status())
	}
	if adapter.session.closeCount() != 1 {
		t.Errorf("teardown must run exactly once, session closed %d times", adapter.session.closeCount())
	}

	// A redundant explicit disconnect stays a no-op.
	c.Disconnect()
	if adapter.session.closeCount() != 1 {
		t.Error("explicit disconnect after single shot must not close again")
	}
}

func TestLateEventsAfterDisconnectAreIgnored(t *testing.T) {
	adapter := &fakeAdapter{needsAck: true}
	c := newTestController(t, adapter, nil, ModeContinuous)
	connect(t, c, adapter)

	adapter.emitEvent(ToolInvokedEvent{Name: ToolName, CallID: "call-1", Args: validArgs()})
	waitFor(t, func() bool { return adapter.session.ackCount() == 1 }, "first ack missing")
	c.Disconnect()

	adapter.emitEvent(ToolInvokedEvent{Name: ToolName, CallID: "call-2", Args: validArgs()})
	adapter.emitEvent(TranscriptEvent{Text: " late text"})

	if got := len(c.History()); got != 1 {
		t.Errorf("late tool event mutated history: %d entries", got)
	}
	if c.Transcript() != "" {
		t.Errorf("late transcript fragment was applied: %q", c.Transcript())
	}
	// No ack for the late invocation.
	time.Sleep(20 * time.Millisecond)
	if adapter.session.ackCount() != 1 {
		t.Errorf("late invocation must not be acknowledged, got %d acks", adapter.session.ackCount())
	}
}

func TestTranscriptAccumulates(t *testing.T) {
	adapter := &fakeAdapter{}
	c := newTestController(t, adapter, nil, ModeContinuous)
	connect(t, c, adapter)

	adapter.emitEvent(TranscriptEvent{Text: "hello"})
	adapter.emitEvent(TranscriptEvent{Text: " there"})
	if c.Transcript() != "hello there" {
		t.Errorf("unexpected transcript %q", c.Transcript())
	}
}

func TestReconnectResetsStateByDefault(t *testing.T) {
	adapter := &fakeAdapter{}
	c := newTestController(t, adapter, nil, ModeContinuous)
	connect(t, c, adapter)
	adapter.emitEvent(ToolInvokedEvent{Name: ToolName, CallID: "c1", Args: validArgs()})
	adapter.emitEvent(TranscriptEvent{Text: "hello"})
	c.Disconnect()

	// State survives disconnect for operator review.
	if c.CurrentAnalysis() == nil || c.Transcript() == "" {
		t.Fatal("state must be retained after disconnect")
	}

	connect(t, c, adapter)
	if c.CurrentAnalysis() != nil || len(c.History()) != 0 || c.Transcript() != "" {
		t.Error("reconnect must reset history, current, and transcript")
	}
}

func TestPreserveUntilUpdatePolicy(t *testing.T) {
	adapter := &fakeAdapter{}
	c, err := New(Config{Adapter: adapter, ResetPolicy: PreserveUntilUpdate})
	if err != nil {
		t.Fatal(err)
	}
	connect(t, c, adapter)
	adapter.emitEvent(ToolInvokedEvent{Name: ToolName, CallID: "c1", Args: validArgs()})
	c.Disconnect()

	connect(t, c, adapter)
	if c.CurrentAnalysis() == nil {
		t.Error("preserve policy must keep the last analysis across reconnect")
	}
	if c.Transcript() != "" {
		t.Error("transcript is cleared under either policy")
	}
}

func TestSetModeIgnoredWhileConnected(t *testing.T) {
	adapter := &fakeAdapter{}
	c := newTestController(t, adapter, nil, ModeContinuous)
	connect(t, c, adapter)

	c.SetMode(ModeSingleShot)
	if c.Mode() != ModeContinuous {
		t.Error("mode change while connected must be ignored")
	}

	c.Disconnect()
	c.SetMode(ModeSingleShot)
	if c.Mode() != ModeSingleShot {
		t.Error("mode change while disconnected must apply")
	}
}

func TestFramesFlowWhenConnectedAndDropAfterTeardown(t *testing.T) {
	adapter := &fakeAdapter{}
	capture := &fakeCapture{}
	c := newTestController(t, adapter, capture, ModeContinuous)
	connect(t, c, adapter)

	samples := make([]float32, 4096)
	waitFor(t, func() bool {
		capture.push(samples, 48000)
		return adapter.session.frameCount() > 0
	}, "no frame reached the session")

	// 48k -> 16k downsample of 4096 samples is 1366 samples = 2732 bytes.
	adapter.session.mu.Lock()
	frameLen := len(adapter.session.frames[0])
	adapter.session.mu.Unlock()
	if frameLen != 2732 {
		t.Errorf("expected 2732-byte frame, got %d", frameLen)
	}

	c.Disconnect()
	waitFor(t, func() bool {
		capture.mu.Lock()
		defer capture.mu.Unlock()
		return capture.closes == 1
	}, "capture was not released")

	sent := adapter.session.frameCount()
	capture.push(samples, 48000)
	time.Sleep(20 * time.Millisecond)
	if adapter.session.frameCount() != sent {
		t.Error("frames after teardown must be dropped")
	}
}

func TestUnknownToolInvocationIgnored(t *testing.T) {
	adapter := &fakeAdapter{needsAck: true}
	c := newTestController(t, adapter, nil, ModeContinuous)
	connect(t, c, adapter)

	adapter.emitEvent(ToolInvokedEvent{Name: "other_tool", CallID: "x", Args: validArgs()})
	if len(c.History()) != 0 {
		t.Error("unknown tool must not produce analysis")
	}
	time.Sleep(20 * time.Millisecond)
	if adapter.session.ackCount() != 0 {
		t.Error("unknown tool must not be acknowledged")
	}
}

func TestProviderClosedEventTearsDown(t *testing.T) {
	adapter := &fakeAdapter{}
	capture := &fakeCapture{}
	c := newTestController(t, adapter, capture, ModeContinuous)
	connect(t, c, adapter)

	adapter.emitEvent(ClosedEvent{Reason: "remote hangup"})
	if c.Status() != StatusDisconnected {
		t.Errorf("expected disconnected, got %s", c.Status())
	}
	capture.mu.Lock()
	closes := capture.closes
	capture.mu.Unlock()
	if closes != 1 {
		t.Errorf("capture must be released exactly once, got %d", closes)
	}
}

func TestDisconnectDuringDialClosesLateSession(t *testing.T) {
	adapter := &fakeAdapter{dialGate: make(chan struct{})}
	c := newTestController(t, adapter, nil, ModeContinuous)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, func() bool { return adapter.dialCalls() == 1 }, "dial never started")

	c.Disconnect()
	if c.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", c.Status())
	}

	// The dial completes after teardown already ran; the session it
	// returns must still be released.
	close(adapter.dialGate)
	waitFor(t, func() bool {
		s := adapter.sessionHandle()
		return s != nil && s.closeCount() >= 1
	}, "session established after disconnect was never closed")
}

func TestObserverStartedEndedParity(t *testing.T) {
	t.Run("connect failure never started", func(t *testing.T) {
		obs := &countingObserver{}
		adapter := &fakeAdapter{connectErr: NewTransportError("dial", errors.New("refused"))}
		c, err := New(Config{Adapter: adapter, Observer: obs})
		if err != nil {
			t.Fatal(err)
		}

		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("connect: %v", err)
		}
		waitFor(t, func() bool { return c.Status() == StatusError }, "never reached error status")

		started, ended := obs.counts()
		if started != 0 || ended != 0 {
			t.Errorf("started=%d ended=%d, want 0/0 for a session that never opened", started, ended)
		}
	})

	t.Run("full lifecycle pairs up", func(t *testing.T) {
		obs := &countingObserver{}
		adapter := &fakeAdapter{}
		c, err := New(Config{Adapter: adapter, Observer: obs})
		if err != nil {
			t.Fatal(err)
		}

		connect(t, c, adapter)
		c.Disconnect()

		started, ended := obs.counts()
		if started != 1 || ended != 1 {
			t.Errorf("started=%d ended=%d, want 1/1", started, ended)
		}
	})
}

func TestPreserveUntilUpdateEvictsOnFirstNewRecord(t *testing.T) {
	adapter := &fakeAdapter{}
	c, err := New(Config{Adapter: adapter, ResetPolicy: PreserveUntilUpdate})
	if err != nil {
		t.Fatal(err)
	}

	connect(t, c, adapter)
	adapter.emitEvent(ToolInvokedEvent{Name: ToolName, CallID: "c1", Args: validArgs()})
	adapter.emitEvent(ToolInvokedEvent{Name: ToolName, CallID: "c2", Args: validArgs()})
	c.Disconnect()

	connect(t, c, adapter)
	if got := len(c.History()); got != 2 {
		t.Fatalf("preserved history length = %d, want 2 before the new session reports", got)
	}

	newArgs := validArgs()
	newArgs["emotion"] = "Sadness"
	adapter.emitEvent(ToolInvokedEvent{Name: ToolName, CallID: "c3", Args: newArgs})

	history := c.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want only the new session's record", len(history))
	}
	if history[0].Emotion != EmotionSadness {
		t.Errorf("history[0].Emotion = %s, want Sadness", history[0].Emotion)
	}
	if cur := c.CurrentAnalysis(); cur == nil || cur.Emotion != EmotionSadness {
		t.Errorf("current analysis = %+v, want the new session's record", cur)
	}
}
