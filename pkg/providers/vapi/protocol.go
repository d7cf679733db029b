package vapi

import "encoding/json"

// Wire types for the orchestrated protocol. The session is configured
// by a single session-start frame after dialing; everything inbound is
// either a binary assistant PCM frame or a JSON message tagged by its
// "type" field.

type sessionStart struct {
	Type      string    `json:"type"`
	Assistant assistant `json:"assistant"`
}

type assistant struct {
	Name         string      `json:"name"`
	FirstMessage string      `json:"firstMessage"`
	Transcriber  transcriber `json:"transcriber"`
	Model        model       `json:"model"`
	Voice        voice       `json:"voice"`
}

type transcriber struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

type model struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Tools    []tool    `json:"tools"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type voice struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

type tool struct {
	Type     string        `json:"type"`
	Async    bool          `json:"async"`
	Messages []toolMessage `json:"messages"`
	Function toolFunction  `json:"function"`
}

// toolMessage suppresses the assistant's spoken filler around tool
// execution; all three phases carry empty content.
type toolMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type toolFunction struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *schema `json:"parameters,omitempty"`
}

type schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *schema            `json:"items,omitempty"`
	Properties  map[string]*schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// serverMessage is the inbound tagged union. Fields beyond Type are
// populated per kind: transcript messages carry Transcript and
// TranscriptType, tool-calls messages carry ToolCalls, error messages
// carry Error, call-end messages carry EndedReason.
type serverMessage struct {
	Type           string          `json:"type"`
	Transcript     string          `json:"transcript,omitempty"`
	TranscriptType string          `json:"transcriptType,omitempty"`
	ToolCalls      []toolCallEntry `json:"toolCalls,omitempty"`
	Error          string          `json:"error,omitempty"`
	EndedReason    string          `json:"endedReason,omitempty"`
}

const (
	msgCallStart  = "call-start"
	msgCallEnd    = "call-end"
	msgError      = "error"
	msgTranscript = "transcript"
	msgToolCalls  = "tool-calls"

	transcriptFinal = "final"
)

type toolCallEntry struct {
	ID       string       `json:"id,omitempty"`
	Function toolCallBody `json:"function"`
}

type toolCallBody struct {
	Name string `json:"name"`
	// Arguments arrive either as a JSON object or as a stringified JSON
	// payload depending on the upstream model provider.
	Arguments json.RawMessage `json:"arguments"`
}
