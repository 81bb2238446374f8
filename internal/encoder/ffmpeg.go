package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/config"
	"github.com/saltyorg/subextract/internal/library"
)

// commandRunner runs an external tool and returns its stdout
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// outputFormats maps sidecar extensions to ffmpeg muxer and codec names
var outputFormats = map[string]struct{ muxer, codec string }{
	"srt":  {"srt", "srt"},
	"ass":  {"ass", "copy"},
	"ssa":  {"ass", "copy"},
	"vtt":  {"webvtt", "webvtt"},
	"ttml": {"ttml", "ttml"},
}

// FFmpegEncoder extracts subtitle streams from locally reachable files with ffmpeg,
// writing <cache_dir>/<media source id>/<stream index>.<ext>
type FFmpegEncoder struct {
	ffmpegPath   string
	ffprobePath  string
	cacheDir     string
	pathMappings []config.PathMapping
	run          commandRunner
	locks        sourceLocks
}

// sourceLocks serializes extraction per media source id
type sourceLocks struct {
	mu   sync.Mutex
	held map[string]*sourceLock
}

type sourceLock struct {
	sync.Mutex
	refs int
}

func (l *sourceLocks) lock(id string) func() {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]*sourceLock)
	}
	sl, ok := l.held[id]
	if !ok {
		sl = &sourceLock{}
		l.held[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		if sl.refs--; sl.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}

// NewFFmpegEncoder creates an encoder from the extraction settings
func NewFFmpegEncoder(cfg config.Extraction) *FFmpegEncoder {
	return &FFmpegEncoder{
		ffmpegPath:   cfg.FFmpegPath,
		ffprobePath:  cfg.FFprobePath,
		cacheDir:     cfg.CacheDir,
		pathMappings: cfg.PathMappings,
		run:          defaultCommandRunner,
	}
}

// SidecarPath returns where a stream of a media source is written
func (e *FFmpegEncoder) SidecarPath(sourceID string, streamIndex int, ext string) string {
	return filepath.Join(e.cacheDir, sourceID, strconv.Itoa(streamIndex)+"."+ext)
}

// LocalPath applies the first matching path mapping to a server path
func (e *FFmpegEncoder) LocalPath(serverPath string) string {
	for _, m := range e.pathMappings {
		if m.From == "" {
			continue
		}
		if serverPath == m.From || strings.HasPrefix(serverPath, strings.TrimRight(m.From, "/")+"/") {
			return m.To + strings.TrimPrefix(serverPath, strings.TrimRight(m.From, "/"))
		}
	}
	return serverPath
}

type pendingOutput struct {
	stream library.MediaStream
	final  string
	part   string
	ext    string
}

// ExtractAllExtractableSubtitles implements SubtitleEncoder. Text streams found by ffprobe
// are written in a single ffmpeg pass; streams with an existing non-empty sidecar are skipped.
// When the pass fails, each stream is retried on its own.
func (e *FFmpegEncoder) ExtractAllExtractableSubtitles(ctx context.Context, source library.MediaSource) error {
	if source.Path == "" {
		return fmt.Errorf("source %s: %w", source.ID, ErrNoPath)
	}

	unlock := e.locks.lock(source.ID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, config.GetTimeouts().Extraction)
	defer cancel()

	path := e.LocalPath(source.Path)
	probed, err := e.probe(ctx, path)
	if err != nil {
		return err
	}

	var pending []pendingOutput
	for _, p := range probed {
		stream := p.MediaStream()
		if p.IsBitmap || !stream.IsTextSubtitle() {
			log.Trace().
				Str("path", path).
				Int("stream_index", p.Index).
				Str("codec", p.Codec).
				Bool("bitmap", p.IsBitmap).
				Msg("Skipping non-text subtitle stream")
			continue
		}

		ext := stream.SidecarFormat()
		final := e.SidecarPath(source.ID, p.Index, ext)
		if info, err := os.Stat(final); err == nil && info.Size() > 0 {
			report(ctx, Result{Source: source, Stream: stream, Output: final, Size: info.Size(), Skipped: true})
			continue
		}
		pending = append(pending, pendingOutput{stream: stream, final: final, ext: ext})
	}

	if len(pending) == 0 {
		return nil
	}

	dir := filepath.Join(e.cacheDir, source.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create subtitle directory: %w", err)
	}
	for i := range pending {
		part, err := reservePart(dir, pending[i].final)
		if err != nil {
			removeParts(pending[:i])
			return err
		}
		pending[i].part = part
	}

	if _, err := e.run(ctx, e.ffmpegPath, ffmpegArgs(path, pending)...); err != nil {
		if len(pending) == 1 || ctx.Err() != nil {
			removeParts(pending)
			return fmt.Errorf("ffmpeg extract %q: %w", path, err)
		}

		log.Debug().
			Err(err).
			Str("path", path).
			Int("streams", len(pending)).
			Msg("Batch extraction failed, retrying streams one at a time")

		var errs []error
		for i, p := range pending {
			if ctx.Err() != nil {
				removeParts(pending[i:])
				errs = append(errs, ctx.Err())
				break
			}
			if _, err := e.run(ctx, e.ffmpegPath, ffmpegArgs(path, []pendingOutput{p})...); err != nil {
				_ = os.Remove(p.part)
				errs = append(errs, fmt.Errorf("stream %d: ffmpeg extract %q: %w", p.stream.Index, path, err))
				continue
			}
			if err := e.commit(ctx, source, p); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	var errs []error
	for _, p := range pending {
		if err := e.commit(ctx, source, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// commit moves a written temp file into its final sidecar path
func (e *FFmpegEncoder) commit(ctx context.Context, source library.MediaSource, p pendingOutput) error {
	info, err := os.Stat(p.part)
	if err != nil {
		return fmt.Errorf("stream %d: %w", p.stream.Index, err)
	}
	if err := os.Chmod(p.part, 0o644); err != nil {
		_ = os.Remove(p.part)
		return fmt.Errorf("stream %d: %w", p.stream.Index, err)
	}
	if err := os.Rename(p.part, p.final); err != nil {
		_ = os.Remove(p.part)
		return fmt.Errorf("stream %d: %w", p.stream.Index, err)
	}

	log.Debug().
		Str("media_source_id", source.ID).
		Int("stream_index", p.stream.Index).
		Str("output", p.final).
		Msg("Extracted subtitle stream")

	report(ctx, Result{Source: source, Stream: p.stream, Output: p.final, Size: info.Size()})
	return nil
}

// reservePart creates a uniquely named temp file next to final for ffmpeg to overwrite
func reservePart(dir, final string) (string, error) {
	f, err := os.CreateTemp(dir, filepath.Base(final)+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	return name, nil
}

func removeParts(outputs []pendingOutput) {
	for _, p := range outputs {
		if p.part != "" {
			_ = os.Remove(p.part)
		}
	}
}

func ffmpegArgs(input string, outputs []pendingOutput) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", input,
	}
	for _, o := range outputs {
		f, ok := outputFormats[o.ext]
		if !ok {
			f = outputFormats["srt"]
		}
		args = append(args,
			"-map", fmt.Sprintf("0:%d", o.stream.Index),
			"-c:s", f.codec,
			"-f", f.muxer,
			o.part,
		)
	}
	return args
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = nil

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return []byte(stdout.String()), nil
}
