package encoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/library"
)

// SubtitleFetcher requests a subtitle stream from the media server
type SubtitleFetcher interface {
	FetchSubtitle(ctx context.Context, itemID, mediaSourceID string, streamIndex int, format string) (int64, error)
}

// ServerEncoder has the media server extract each stream by requesting it in its native
// text format. The server keeps the result in its subtitle cache.
type ServerEncoder struct {
	fetcher SubtitleFetcher
}

// NewServerEncoder creates an encoder backed by the media server
func NewServerEncoder(fetcher SubtitleFetcher) *ServerEncoder {
	return &ServerEncoder{fetcher: fetcher}
}

// ExtractAllExtractableSubtitles implements SubtitleEncoder. A failing stream does not stop
// the remaining streams; all failures are returned joined.
func (e *ServerEncoder) ExtractAllExtractableSubtitles(ctx context.Context, source library.MediaSource) error {
	streams := source.ExtractableStreams()
	if len(streams) == 0 {
		return nil
	}

	var errs []error
	for _, stream := range streams {
		if err := ctx.Err(); err != nil {
			return err
		}

		format := stream.SidecarFormat()
		size, err := e.fetcher.FetchSubtitle(ctx, source.ItemID, source.ID, stream.Index, format)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("stream %d: %w", stream.Index, err))
			continue
		}

		log.Debug().
			Str("media_source_id", source.ID).
			Int("stream_index", stream.Index).
			Str("codec", stream.Codec).
			Int64("size", size).
			Msg("Server extracted subtitle stream")

		report(ctx, Result{
			Source: source,
			Stream: stream,
			Output: fmt.Sprintf("/Videos/%s/%s/Subtitles/%d/Stream.%s", source.ItemID, source.ID, stream.Index, format),
			Size:   size,
		})
	}

	return errors.Join(errs...)
}
