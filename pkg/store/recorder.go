package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/callsensei/callsensei/pkg/core/bridge"
)

// Archiver is the subset of Store the recorder needs.
type Archiver interface {
	InsertAnalysis(ctx context.Context, sessionID string, rec bridge.AnalysisRecord) error
}

// Recorder drains a controller's update stream and archives accepted
// analyses. Persistence failures are logged and never fed back into
// the bridge.
type Recorder struct {
	archive Archiver
	logger  *slog.Logger
	timeout time.Duration
}

// NewRecorder creates a Recorder writing to archive.
func NewRecorder(archive Archiver, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		archive: archive,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// Run consumes updates until the channel closes or ctx is canceled.
// Intended to run on its own goroutine alongside the presentation
// consumer.
func (r *Recorder) Run(ctx context.Context, updates <-chan bridge.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			r.record(ctx, u)
		}
	}
}

func (r *Recorder) record(ctx context.Context, u bridge.Update) {
	au, ok := u.(bridge.AnalysisUpdate)
	if !ok {
		return
	}
	insertCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.archive.InsertAnalysis(insertCtx, au.SessionID, au.Record); err != nil {
		r.logger.Warn("archiving analysis failed",
			"session_id", au.SessionID,
			"error", err)
	}
}
