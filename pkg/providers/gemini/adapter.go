// Package gemini implements the native-audio provider adapter: a
// persistent duplex WebSocket to the Gemini Live API. The model hears
// raw PCM directly and reports analyses through update_dashboard
// function calls, which this protocol expects acknowledged.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callsensei/callsensei/pkg/core/bridge"
	"github.com/callsensei/callsensei/pkg/core/pcm"
)

const (
	// DefaultModel is the voice-native model the dashboard was built
	// against.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	defaultHost = "generativelanguage.googleapis.com"
	bidiPath    = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	inputMIMEType = "audio/pcm;rate=16000"
)

// Config configures the adapter.
type Config struct {
	// APIKey is required; typically GEMINI_API_KEY.
	APIKey string

	// Model defaults to DefaultModel.
	Model string

	// Host overrides the API host, for tests.
	Host string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Adapter is the native-audio bridge.Adapter.
type Adapter struct {
	cfg Config
}

// New creates an Adapter.
func New(cfg Config) *Adapter {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{cfg: cfg}
}

// Name implements bridge.Adapter.
func (a *Adapter) Name() string { return "gemini" }

// RequiresAck reports that this protocol expects a tool response before
// the model continues.
func (a *Adapter) RequiresAck() bool { return true }

// Validate implements the pre-flight credential check.
func (a *Adapter) Validate() error {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return bridge.NewConfigError("missing Gemini API key (set GEMINI_API_KEY)")
	}
	return nil
}

// Connect dials the live endpoint, sends the session setup, and waits
// for setupComplete before returning, so a returned session is ready
// for audio. The opened event is emitted once the handshake lands;
// everything after flows through the read loop.
func (a *Adapter) Connect(ctx context.Context, emit func(bridge.Event)) (bridge.Session, error) {
	u := url.URL{
		Scheme:   "wss",
		Host:     a.cfg.Host,
		Path:     bidiPath,
		RawQuery: url.Values{"key": []string{a.cfg.APIKey}}.Encode(),
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, bridge.NewTransportError(fmt.Sprintf("websocket dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, bridge.NewTransportError("websocket dial failed", err)
	}

	s := &session{
		conn:   conn,
		emit:   emit,
		logger: a.cfg.Logger,
		done:   make(chan struct{}),
	}

	if err := s.sendJSON(clientMessage{Setup: a.buildSetup()}); err != nil {
		_ = conn.Close()
		return nil, bridge.NewTransportError("send session setup", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, bridge.NewTransportError("read setup response", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var first serverMessage
	if err := json.Unmarshal(payload, &first); err != nil {
		_ = conn.Close()
		return nil, bridge.NewProtocolError("decode setup response", err)
	}
	if first.SetupComplete == nil {
		_ = conn.Close()
		return nil, bridge.NewProtocolError("session setup was not acknowledged", nil)
	}

	emit(bridge.OpenedEvent{})
	go s.readLoop()
	return s, nil
}

func (a *Adapter) buildSetup() *setup {
	return &setup{
		Model: "models/" + a.cfg.Model,
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		SystemInstruction: &content{
			Parts: []part{{Text: bridge.SystemInstruction}},
		},
		Tools: []tool{{
			FunctionDeclarations: []functionDeclaration{updateDashboardDeclaration()},
		}},
		InputAudioTranscription: &struct{}{},
	}
}

func updateDashboardDeclaration() functionDeclaration {
	emotions := make([]string, 0, len(bridge.Emotions))
	for _, e := range bridge.Emotions {
		emotions = append(emotions, string(e))
	}
	return functionDeclaration{
		Name:        bridge.ToolName,
		Description: bridge.ToolDescription,
		Parameters: &schema{
			Type: "OBJECT",
			Properties: map[string]*schema{
				"emotion": {
					Type:        "STRING",
					Enum:        emotions,
					Description: bridge.ToolEmotionDescription,
				},
				"confidence": {
					Type:        "NUMBER",
					Description: bridge.ToolConfidenceDescription,
				},
				"suggestions": {
					Type:        "ARRAY",
					Items:       &schema{Type: "STRING"},
					Description: bridge.ToolSuggestionsDescription,
				},
				"summary": {
					Type:        "STRING",
					Description: bridge.ToolSummaryDescription,
				},
			},
			Required: []string{"emotion", "confidence", "suggestions", "summary"},
		},
	}
}

// session is one live websocket connection.
type session struct {
	conn   *websocket.Conn
	emit   func(bridge.Event)
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// SendAudioFrame wraps one s16le PCM frame in a realtime media envelope.
func (s *session) SendAudioFrame(frame []byte) error {
	return s.sendJSON(clientMessage{
		RealtimeInput: &realtimeInput{
			MediaChunks: []mediaChunk{{
				MIMEType: inputMIMEType,
				Data:     pcm.TransportEncode(frame),
			}},
		},
	})
}

// SendToolAck sends the function response the model waits on.
func (s *session) SendToolAck(callID, name string) error {
	return s.sendJSON(clientMessage{
		ToolResponse: &toolResponse{
			FunctionResponses: []functionResponse{{
				ID:       callID,
				Name:     name,
				Response: map[string]any{"result": "Dashboard updated"},
			}},
		},
	})
}

func (s *session) sendJSON(v any) error {
	if s.closed.Load() {
		return bridge.NewTransportError("session is closed", nil)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close is idempotent and never emits synchronously; the read loop
// observes the closed socket and reports from its own goroutine.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func (s *session) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(bridge.ClosedEvent{Reason: closeReason(err)})
				return
			}
			s.emit(bridge.ErroredEvent{Cause: bridge.NewTransportError("read live frame", err)})
			return
		}

		events, err := decodeServerFrame(data)
		if err != nil {
			s.logger.Warn("undecodable live frame", "error", err)
			continue
		}
		for _, ev := range events {
			s.emit(ev)
		}
	}
}

func closeReason(err error) string {
	if ce, ok := err.(*websocket.CloseError); ok && ce.Text != "" {
		return ce.Text
	}
	return "connection closed"
}

// decodeServerFrame normalizes one server message into bridge events.
// Unknown message kinds decode to nothing rather than failing the
// session.
func decodeServerFrame(data []byte) ([]bridge.Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, bridge.NewProtocolError("decode server frame", err)
	}

	var events []bridge.Event
	if msg.ServerContent != nil && msg.ServerContent.InputTranscription != nil {
		if text := msg.ServerContent.InputTranscription.Text; text != "" {
			events = append(events, bridge.TranscriptEvent{Text: text})
		}
	}
	if msg.ToolCall != nil {
		for _, call := range msg.ToolCall.FunctionCalls {
			events = append(events, bridge.ToolInvokedEvent{
				Name:   call.Name,
				CallID: call.ID,
				Args:   call.Args,
			})
		}
	}
	if msg.GoAway != nil {
		events = append(events, bridge.ClosedEvent{Reason: "server go away"})
	}
	return events, nil
}
