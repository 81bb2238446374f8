// Package encoder extracts embedded subtitle streams so they can be served without
// demuxing the container on every playback.
package encoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/saltyorg/subextract/internal/config"
	"github.com/saltyorg/subextract/internal/library"
)

// ErrNoPath is returned when a media source has no file path to extract from
var ErrNoPath = errors.New("media source has no path")

// SubtitleEncoder extracts every extractable subtitle stream of a media source
type SubtitleEncoder interface {
	ExtractAllExtractableSubtitles(ctx context.Context, source library.MediaSource) error
}

// Result describes one handled subtitle stream
type Result struct {
	Source library.MediaSource
	Stream library.MediaStream
	// Output is the sidecar path, or the server URL path for server-side extraction
	Output string
	Size   int64
	// Skipped is set when an earlier extraction was reused
	Skipped bool
}

// ReportFunc receives results as streams are extracted
type ReportFunc func(ctx context.Context, r Result)

type reporterKey struct{}

// WithReporter returns a context whose encoders report every handled stream to fn.
// Reporters nest: an inner reporter does not hide an outer one.
func WithReporter(ctx context.Context, fn ReportFunc) context.Context {
	if outer, ok := ctx.Value(reporterKey{}).(ReportFunc); ok {
		inner := fn
		fn = func(ctx context.Context, r Result) {
			inner(ctx, r)
			outer(ctx, r)
		}
	}
	return context.WithValue(ctx, reporterKey{}, fn)
}

func report(ctx context.Context, r Result) {
	if fn, ok := ctx.Value(reporterKey{}).(ReportFunc); ok {
		fn(ctx, r)
	}
}

// New builds the encoder for the configured extraction mode
func New(cfg config.Extraction, fetcher SubtitleFetcher) (SubtitleEncoder, error) {
	switch cfg.Mode {
	case config.ExtractionModeServer:
		return NewServerEncoder(fetcher), nil
	case config.ExtractionModeFFmpeg:
		return NewFFmpegEncoder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown extraction mode %q", cfg.Mode)
	}
}
