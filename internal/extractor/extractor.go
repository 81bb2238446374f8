// Package extractor runs subtitle extraction for every media source of a library item.
package extractor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/encoder"
	"github.com/saltyorg/subextract/internal/library"
	"github.com/saltyorg/subextract/internal/runctx"
)

// SubtitlesExtractor extracts the subtitles of one item at a time
type SubtitlesExtractor struct {
	encoder encoder.SubtitleEncoder
}

// New creates an extractor over the given encoder
func New(enc encoder.SubtitleEncoder) *SubtitlesExtractor {
	return &SubtitlesExtractor{encoder: enc}
}

// Run extracts every media source of the item in order. A failing source is logged and
// the next one is tried; only cancellation is returned.
func (e *SubtitlesExtractor) Run(ctx context.Context, item library.Item) error {
	ctx = runctx.WithItem(ctx, item)

	for _, source := range item.MediaSources {
		if err := ctx.Err(); err != nil {
			return err
		}

		if source.ItemID == "" {
			source.ItemID = item.ID
		}
		if source.Path == "" {
			source.Path = item.Path
		}

		err := e.encoder.ExtractAllExtractableSubtitles(ctx, source)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		event := log.Warn()
		if errors.Is(err, encoder.ErrNoPath) {
			event = log.Debug()
		}
		event.
			Err(err).
			Str("item_id", item.ID).
			Str("item", item.DisplayName()).
			Str("media_source_id", source.ID).
			Msg("Unable to extract subtitle stream(s)")
	}

	return nil
}

// RunAll extracts each item in turn, stopping at the first cancellation
func (e *SubtitlesExtractor) RunAll(ctx context.Context, items []library.Item) error {
	for i, item := range items {
		if err := e.Run(ctx, item); err != nil {
			return fmt.Errorf("stopped after %d of %d items: %w", i, len(items), err)
		}
	}
	return nil
}
