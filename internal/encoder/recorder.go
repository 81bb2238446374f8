package encoder

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/database"
	"github.com/saltyorg/subextract/internal/library"
	"github.com/saltyorg/subextract/internal/runctx"
)

// ExtractionStore persists extraction records
type ExtractionStore interface {
	UpsertExtraction(e *database.Extraction) error
}

// Recorder wraps an encoder and records every newly extracted stream in the database.
// Reused sidecars are not recorded again.
type Recorder struct {
	next  SubtitleEncoder
	store ExtractionStore
}

// NewRecorder decorates next with extraction bookkeeping
func NewRecorder(next SubtitleEncoder, store ExtractionStore) *Recorder {
	return &Recorder{next: next, store: store}
}

// ExtractAllExtractableSubtitles implements SubtitleEncoder
func (r *Recorder) ExtractAllExtractableSubtitles(ctx context.Context, source library.MediaSource) error {
	return r.next.ExtractAllExtractableSubtitles(WithReporter(ctx, r.record), source)
}

func (r *Recorder) record(ctx context.Context, res Result) {
	if res.Skipped {
		return
	}

	e := &database.Extraction{
		ItemID:        res.Source.ItemID,
		MediaSourceID: res.Source.ID,
		StreamIndex:   res.Stream.Index,
		Codec:         res.Stream.Codec,
		Language:      res.Stream.Language,
		Output:        res.Output,
		SizeBytes:     res.Size,
	}
	if item, ok := runctx.Item(ctx); ok {
		e.ItemID = item.ID
		e.ItemName = item.DisplayName()
	}
	if runID, ok := runctx.RunID(ctx); ok {
		e.RunID = &runID
	}

	if err := r.store.UpsertExtraction(e); err != nil {
		log.Error().
			Err(err).
			Str("media_source_id", res.Source.ID).
			Int("stream_index", res.Stream.Index).
			Msg("Failed to record extraction")
	}
}
