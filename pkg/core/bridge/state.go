package bridge

// Emotion is the closed set of caller-emotion categories the analysis
// model may report. Any other value is a validation failure, never a
// silent default.
type Emotion string

const (
	EmotionAnger     Emotion = "Anger"
	EmotionStress    Emotion = "Stress"
	EmotionConfusion Emotion = "Confusion"
	EmotionUrgency   Emotion = "Urgency"
	EmotionSadness   Emotion = "Sadness"
	EmotionHappy     Emotion = "Happy"
	EmotionNeutral   Emotion = "Neutral"
)

// Emotions lists every valid category, in display order.
var Emotions = []Emotion{
	EmotionAnger,
	EmotionStress,
	EmotionConfusion,
	EmotionUrgency,
	EmotionSadness,
	EmotionHappy,
	EmotionNeutral,
}

// ValidEmotion reports whether e is one of the closed categories.
func ValidEmotion(e Emotion) bool {
	switch e {
	case EmotionAnger, EmotionStress, EmotionConfusion, EmotionUrgency,
		EmotionSadness, EmotionHappy, EmotionNeutral:
		return true
	default:
		return false
	}
}

// AnalysisRecord is one emotional analysis of the caller, produced by the
// tool-call interpreter from a validated provider payload. Records are
// immutable once constructed.
type AnalysisRecord struct {
	Emotion     Emotion  `json:"emotion"`
	Confidence  float64  `json:"confidence"`
	Suggestions []string `json:"suggestions"`
	Summary     string   `json:"summary"`
	OpeningLine string   `json:"opening_line,omitempty"`

	// TimestampMS is the capture time in Unix milliseconds, monotonically
	// non-decreasing across a session.
	TimestampMS int64 `json:"timestamp_ms"`
}

// Status is the externally observed connection status.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Mode is the session lifecycle policy.
type Mode string

const (
	// ModeContinuous keeps the session open, accumulating bounded
	// history, until explicitly disconnected.
	ModeContinuous Mode = "continuous"

	// ModeSingleShot tears the session down automatically after exactly
	// one successful analysis.
	ModeSingleShot Mode = "single_shot"
)

// HistoryCapacity bounds the retained analysis history; the oldest
// record is evicted first.
const HistoryCapacity = 20

// sessionState is the single mutable state cell owned by the Controller.
// Mutations happen only under the controller's state lock; readers get
// copies.
type sessionState struct {
	status     Status
	current    *AnalysisRecord
	history    []AnalysisRecord
	transcript string
	lastTS     int64

	// preserved marks current/history as carried over from the prior
	// session; the next append evicts them so History never mixes
	// sessions.
	preserved bool
}

func (s *sessionState) append(rec AnalysisRecord) {
	if s.preserved {
		s.current = nil
		s.history = nil
		s.lastTS = 0
		s.preserved = false
	}
	if rec.TimestampMS < s.lastTS {
		rec.TimestampMS = s.lastTS
	}
	s.lastTS = rec.TimestampMS
	s.history = append(s.history, rec)
	if len(s.history) > HistoryCapacity {
		s.history = s.history[len(s.history)-HistoryCapacity:]
	}
	s.current = &s.history[len(s.history)-1]
}

func (s *sessionState) reset() {
	s.current = nil
	s.history = nil
	s.transcript = ""
	s.lastTS = 0
	s.preserved = false
}
