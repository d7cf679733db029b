package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/callsensei/callsensei/pkg/core/bridge"
)

type fakeArchiver struct {
	mu      sync.Mutex
	inserts []bridge.AnalysisUpdate
	err     error
}

func (f *fakeArchiver) InsertAnalysis(_ context.Context, sessionID string, rec bridge.AnalysisRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, bridge.AnalysisUpdate{SessionID: sessionID, Record: rec})
	return f.err
}

func (f *fakeArchiver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts)
}

func TestRecorderArchivesAnalyses(t *testing.T) {
	archive := &fakeArchiver{}
	rec := NewRecorder(archive, nil)

	updates := make(chan bridge.Update, 4)
	updates <- bridge.StatusUpdate{Status: bridge.StatusConnected}
	updates <- bridge.AnalysisUpdate{
		SessionID: "s-1",
		Record:    bridge.AnalysisRecord{Emotion: bridge.EmotionUrgency, Confidence: 0.8},
	}
	updates <- bridge.TranscriptUpdate{Fragment: "hello"}
	updates <- bridge.AnalysisUpdate{
		SessionID: "s-1",
		Record:    bridge.AnalysisRecord{Emotion: bridge.EmotionNeutral, Confidence: 0.4},
	}
	close(updates)

	rec.Run(context.Background(), updates)

	if got := archive.count(); got != 2 {
		t.Fatalf("archived %d records, want 2", got)
	}
	archive.mu.Lock()
	defer archive.mu.Unlock()
	if archive.inserts[0].SessionID != "s-1" || archive.inserts[0].Record.Emotion != bridge.EmotionUrgency {
		t.Errorf("first insert = %+v", archive.inserts[0])
	}
}

func TestRecorderSurvivesInsertFailure(t *testing.T) {
	archive := &fakeArchiver{err: errors.New("connection refused")}
	rec := NewRecorder(archive, nil)

	updates := make(chan bridge.Update, 2)
	updates <- bridge.AnalysisUpdate{SessionID: "s-1"}
	updates <- bridge.AnalysisUpdate{SessionID: "s-1"}
	close(updates)

	rec.Run(context.Background(), updates)

	if got := archive.count(); got != 2 {
		t.Fatalf("attempted %d inserts, want 2 despite failures", got)
	}
}

func TestRecorderStopsOnContextCancel(t *testing.T) {
	archive := &fakeArchiver{}
	rec := NewRecorder(archive, nil)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan bridge.Update)

	done := make(chan struct{})
	go func() {
		rec.Run(ctx, updates)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop on cancel")
	}
}
