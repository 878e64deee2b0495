// Package conversation records session transcripts to storage without
// letting storage failures reach the conversation itself.
package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/tjfontaine/storefront-studio/internal/storage"
	"github.com/tjfontaine/storefront-studio/internal/transcript"
)

const defaultPersistTimeout = 5 * time.Second

// Recorder appends transcript entries to a TranscriptStore. A nil *Recorder
// records nothing.
type Recorder struct {
	store   storage.TranscriptStore
	logger  *slog.Logger
	timeout time.Duration
}

// NewRecorder returns a recorder backed by store. A nil store yields a nil
// recorder.
func NewRecorder(store storage.TranscriptStore, logger *slog.Logger) *Recorder {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, timeout: defaultPersistTimeout}
}

// Record stores entries for sessionID. It best-effort logs on failure.
func (r *Recorder) Record(ctx context.Context, sessionID string, entries ...transcript.Entry) {
	if r == nil || len(entries) == 0 {
		return
	}

	// Decouple persistence from the request lifecycle so a client disconnect
	// does not drop the transcript; still enforce a short timeout.
	persistCtx, cancel := buildPersistenceContext(ctx, r.timeout)
	defer cancel()

	if err := r.store.AppendEntries(persistCtx, sessionID, entries...); err != nil {
		r.logger.Error("failed to record transcript",
			slog.String("session_id", sessionID),
			slog.Int("entries", len(entries)),
			slog.String("error", err.Error()),
		)
	}
}

func buildPersistenceContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, timeout)
}
