package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/saltyorg/subextract/internal/library"
)

// bitmapSubtitleCodecs are image based and cannot be written as text sidecars
var bitmapSubtitleCodecs = map[string]bool{
	"hdmv_pgs_subtitle": true,
	"pgssub":            true,
	"dvd_subtitle":      true,
	"dvdsub":            true,
	"dvb_subtitle":      true,
	"dvbsub":            true,
	"dvb_teletext":      true,
	"xsub":              true,
}

// ProbeStream is a subtitle stream as reported by ffprobe
type ProbeStream struct {
	Index    int
	Codec    string
	Language string
	Title    string
	IsBitmap bool
}

// MediaStream converts the probed stream into a library stream
func (p ProbeStream) MediaStream() library.MediaStream {
	return library.MediaStream{
		Index:    p.Index,
		Type:     library.StreamTypeSubtitle,
		Codec:    p.Codec,
		Language: p.Language,
		Title:    p.Title,
	}
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	Index     int               `json:"index"`
	CodecName string            `json:"codec_name"`
	CodecType string            `json:"codec_type"`
	Tags      map[string]string `json:"tags"`
}

// probe runs one ffprobe call listing the subtitle streams of path
func (e *FFmpegEncoder) probe(ctx context.Context, path string) ([]ProbeStream, error) {
	out, err := e.run(ctx, e.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "s",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	return ParseJSON(out)
}

// ParseJSON converts ffprobe JSON output into its subtitle streams
func ParseJSON(data []byte) ([]ProbeStream, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	var streams []ProbeStream
	for _, s := range raw.Streams {
		if s.CodecType != "subtitle" {
			continue
		}
		codec := strings.ToLower(s.CodecName)
		streams = append(streams, ProbeStream{
			Index:    s.Index,
			Codec:    codec,
			Language: s.Tags["language"],
			Title:    s.Tags["title"],
			IsBitmap: bitmapSubtitleCodecs[codec],
		})
	}
	return streams, nil
}
