// Package vapi implements the orchestrated provider adapter: the
// backend runs a managed transcription/LLM/voice pipeline configured
// declaratively at session start, and this side only streams caller
// audio up and consumes lifecycle events back down.
package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callsensei/callsensei/pkg/core/bridge"
)

const (
	defaultHost = "ws.vapi.ai"
	callPath    = "/call/web"

	assistantName = "CallSensei"

	transcriberProvider = "deepgram"
	transcriberModel    = "nova-2"
	transcriberLanguage = "en-US"

	modelProvider = "openai"
	modelName     = "gpt-3.5-turbo"

	voiceProvider = "11labs"
	voiceID       = "burt"
)

// AudioSink receives assistant PCM as it arrives. Writes must not
// block; the read loop calls it inline.
type AudioSink interface {
	PlayPCM(pcm []byte)
}

// Config configures the adapter.
type Config struct {
	// APIKey is required; typically VAPI_API_KEY.
	APIKey string

	// Host overrides the API host, for tests.
	Host string

	// Sink receives assistant PCM from binary frames. Optional; nil
	// discards assistant audio.
	Sink AudioSink

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Adapter is the orchestrated bridge.Adapter.
type Adapter struct {
	cfg Config
}

// New creates an Adapter.
func New(cfg Config) *Adapter {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{cfg: cfg}
}

// Name implements bridge.Adapter.
func (a *Adapter) Name() string { return "vapi" }

// RequiresAck reports that this protocol completes tool calls without a
// client response.
func (a *Adapter) RequiresAck() bool { return false }

// Validate implements the pre-flight credential check.
func (a *Adapter) Validate() error {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return bridge.NewConfigError("missing Vapi API key (set VAPI_API_KEY)")
	}
	return nil
}

// Connect dials the call endpoint, sends the one-shot session-start
// configuration, and waits for call-start before returning, so a
// returned session is live. Messages other than call-start and error
// are skipped during establishment.
func (a *Adapter) Connect(ctx context.Context, emit func(bridge.Event)) (bridge.Session, error) {
	u := url.URL{Scheme: "wss", Host: a.cfg.Host, Path: callPath}
	header := http.Header{"Authorization": []string{"Bearer " + a.cfg.APIKey}}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, bridge.NewTransportError(fmt.Sprintf("websocket dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, bridge.NewTransportError("websocket dial failed", err)
	}

	s := &session{
		conn:   conn,
		emit:   emit,
		sink:   a.cfg.Sink,
		logger: a.cfg.Logger,
		done:   make(chan struct{}),
	}

	if err := s.sendJSON(buildSessionStart()); err != nil {
		_ = conn.Close()
		return nil, bridge.NewTransportError("send session start", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	if err := awaitCallStart(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	emit(bridge.OpenedEvent{})
	go s.readLoop()
	return s, nil
}

// awaitCallStart reads frames until the pipeline reports call-start.
func awaitCallStart(conn *websocket.Conn) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return bridge.NewTransportError("read session start response", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return bridge.NewProtocolError("decode session start response", err)
		}
		switch msg.Type {
		case msgCallStart:
			return nil
		case msgError:
			return bridge.NewTransportError("session start rejected: "+msg.Error, nil)
		}
	}
}

func buildSessionStart() sessionStart {
	return sessionStart{
		Type: "session-start",
		Assistant: assistant{
			Name:         assistantName,
			FirstMessage: "",
			Transcriber: transcriber{
				Provider: transcriberProvider,
				Model:    transcriberModel,
				Language: transcriberLanguage,
			},
			Model: model{
				Provider: modelProvider,
				Model:    modelName,
				Messages: []message{{Role: "system", Content: bridge.SystemInstruction}},
				Tools:    []tool{updateDashboardTool()},
			},
			Voice: voice{
				Provider: voiceProvider,
				VoiceID:  voiceID,
			},
		},
	}
}

func updateDashboardTool() tool {
	emotions := make([]string, 0, len(bridge.Emotions))
	for _, e := range bridge.Emotions {
		emotions = append(emotions, string(e))
	}
	return tool{
		Type:  "function",
		Async: true,
		Messages: []toolMessage{
			{Type: "request-start", Content: ""},
			{Type: "request-complete", Content: ""},
			{Type: "request-failed", Content: ""},
		},
		Function: toolFunction{
			Name:        bridge.ToolName,
			Description: bridge.ToolDescription,
			Parameters: &schema{
				Type: "object",
				Properties: map[string]*schema{
					"emotion": {
						Type:        "string",
						Enum:        emotions,
						Description: bridge.ToolEmotionDescription,
					},
					"confidence": {
						Type:        "number",
						Description: bridge.ToolConfidenceDescription,
					},
					"suggestions": {
						Type:        "array",
						Items:       &schema{Type: "string"},
						Description: bridge.ToolSuggestionsDescription,
					},
					"suggested_opening_line": {
						Type:        "string",
						Description: bridge.ToolOpeningDescription,
					},
					"summary": {
						Type:        "string",
						Description: bridge.ToolSummaryDescription,
					},
				},
				Required: []string{"emotion", "confidence", "suggestions", "suggested_opening_line", "summary"},
			},
		},
	}
}

// session is one live call connection.
type session struct {
	conn   *websocket.Conn
	emit   func(bridge.Event)
	sink   AudioSink
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// SendAudioFrame streams one s16le PCM frame as a binary message; the
// pipeline's transcriber consumes it directly.
func (s *session) SendAudioFrame(frame []byte) error {
	if s.closed.Load() {
		return bridge.NewTransportError("session is closed", nil)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// SendToolAck is a no-op; this protocol completes tool calls without a
// client response.
func (s *session) SendToolAck(callID, name string) error { return nil }

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
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(bridge.ClosedEvent{Reason: "connection closed"})
				return
			}
			s.emit(bridge.ErroredEvent{Cause: bridge.NewTransportError("read call frame", err)})
			return
		}

		if kind == websocket.BinaryMessage {
			if s.sink != nil {
				s.sink.PlayPCM(data)
			}
			continue
		}

		events, err := decodeServerMessage(data)
		if err != nil {
			s.logger.Warn("undecodable call message", "error", err)
			continue
		}
		for _, ev := range events {
			s.emit(ev)
		}
		for _, ev := range events {
			if _, terminal := ev.(bridge.ClosedEvent); terminal {
				return
			}
			if _, terminal := ev.(bridge.ErroredEvent); terminal {
				return
			}
		}
	}
}

// decodeServerMessage normalizes one tagged-union message into bridge
// events. Interim transcripts and unknown message kinds decode to
// nothing.
func decodeServerMessage(data []byte) ([]bridge.Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, bridge.NewProtocolError("decode call message", err)
	}

	switch msg.Type {
	case msgCallEnd:
		reason := msg.EndedReason
		if reason == "" {
			reason = "call ended"
		}
		return []bridge.Event{bridge.ClosedEvent{Reason: reason}}, nil

	case msgError:
		return []bridge.Event{bridge.ErroredEvent{
			Cause: bridge.NewTransportError("provider reported: "+msg.Error, nil),
		}}, nil

	case msgTranscript:
		if msg.TranscriptType != transcriptFinal || msg.Transcript == "" {
			return nil, nil
		}
		// Final fragments arrive as whole utterances; a leading space
		// keeps consecutive utterances readable in the accumulated
		// transcript.
		return []bridge.Event{bridge.TranscriptEvent{Text: " " + msg.Transcript}}, nil

	case msgToolCalls:
		var events []bridge.Event
		for _, call := range msg.ToolCalls {
			events = append(events, bridge.ToolInvokedEvent{
				Name:   call.Function.Name,
				CallID: call.ID,
				Args:   callArguments(call.Function.Arguments),
			})
		}
		return events, nil
	}
	return nil, nil
}

// callArguments unwraps stringified argument payloads so downstream
// decoding sees JSON either way.
func callArguments(raw json.RawMessage) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return raw
}
