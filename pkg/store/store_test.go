package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/callsensei/callsensei/pkg/core/bridge"
)

// TestStoreRoundTrip exercises migrations and the session/analysis
// tables against a real database. Set CALLSENSEI_TEST_DATABASE_URL to
// run it.
func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("CALLSENSEI_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("skipping database test - set CALLSENSEI_TEST_DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := Open(ctx, Config{DatabaseURL: dsn})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	id := uuid.NewString()
	started := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.CreateSession(ctx, id, "gemini", bridge.ModeContinuous, started); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec := bridge.AnalysisRecord{
		Emotion:     bridge.EmotionAnger,
		Confidence:  0.9,
		Suggestions: []string{"acknowledge the frustration", "offer a callback"},
		Summary:     "caller is upset about a double charge",
		OpeningLine: "I can see the duplicate charge right here.",
		TimestampMS: started.UnixMilli(),
	}
	if err := s.InsertAnalysis(ctx, id, rec); err != nil {
		t.Fatalf("InsertAnalysis: %v", err)
	}

	got, err := s.Analyses(ctx, id)
	if err != nil {
		t.Fatalf("Analyses: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d analyses, want 1", len(got))
	}
	if got[0].Emotion != rec.Emotion || got[0].Confidence != rec.Confidence {
		t.Errorf("round trip mismatch: %+v", got[0])
	}
	if len(got[0].Suggestions) != 2 {
		t.Errorf("suggestions = %v", got[0].Suggestions)
	}

	if err := s.EndSession(ctx, id, bridge.StatusDisconnected, "hello world", time.Now()); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	row, err := s.Session(ctx, id)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !row.Terminal.Valid || row.Terminal.String != "disconnected" {
		t.Errorf("terminal = %+v", row.Terminal)
	}
	if row.Transcript != "hello world" {
		t.Errorf("transcript = %q", row.Transcript)
	}
}

func TestOpenRejectsEmptyURL(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	if !bridge.IsType(err, bridge.ErrConfig) {
		t.Errorf("got %v, want config error", err)
	}
}
