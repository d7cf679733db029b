package bridge

import (
	"encoding/json"
	"fmt"
	"time"
)

// analysisPayload is the wire shape of update_dashboard arguments.
// Pointer fields distinguish missing from zero.
type analysisPayload struct {
	Emotion     *string  `json:"emotion"`
	Confidence  *float64 `json:"confidence"`
	Suggestions []string `json:"suggestions"`
	Summary     *string  `json:"summary"`
	OpeningLine *string  `json:"suggested_opening_line"`
}

// ParseAnalysis validates and decodes update_dashboard arguments into an
// immutable AnalysisRecord stamped with now. Arguments may arrive
// structured (map), as raw JSON bytes, or as a stringified JSON payload.
// A failure yields no record; the caller logs it and the session
// continues.
func ParseAnalysis(args any, now time.Time) (*AnalysisRecord, error) {
	raw, err := normalizeArgs(args)
	if err != nil {
		return nil, NewProtocolError("tool arguments are not valid JSON", err)
	}

	var payload analysisPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, NewProtocolError("decode tool arguments", err)
	}

	if payload.Emotion == nil {
		return nil, NewProtocolError("missing required field emotion", nil)
	}
	if payload.Confidence == nil {
		return nil, NewProtocolError("missing required field confidence", nil)
	}
	if payload.Suggestions == nil {
		return nil, NewProtocolError("missing required field suggestions", nil)
	}
	if payload.Summary == nil {
		return nil, NewProtocolError("missing required field summary", nil)
	}

	emotion := Emotion(*payload.Emotion)
	if !ValidEmotion(emotion) {
		return nil, NewProtocolError(fmt.Sprintf("unknown emotion category %q", *payload.Emotion), nil)
	}
	if *payload.Confidence < 0 || *payload.Confidence > 1 {
		return nil, NewProtocolError(fmt.Sprintf("confidence %v outside [0,1]", *payload.Confidence), nil)
	}

	rec := &AnalysisRecord{
		Emotion:     emotion,
		Confidence:  *payload.Confidence,
		Suggestions: append([]string(nil), payload.Suggestions...),
		Summary:     *payload.Summary,
		TimestampMS: now.UnixMilli(),
	}
	if payload.OpeningLine != nil {
		rec.OpeningLine = *payload.OpeningLine
	}
	return rec, nil
}

// normalizeArgs flattens the three argument transports into JSON bytes.
func normalizeArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case nil:
		return nil, fmt.Errorf("nil arguments")
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	case string:
		return json.RawMessage(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}
}
