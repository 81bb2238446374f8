package library

import "strings"

// StreamType is the kind of a media stream
type StreamType string

const (
	StreamTypeVideo    StreamType = "Video"
	StreamTypeAudio    StreamType = "Audio"
	StreamTypeSubtitle StreamType = "Subtitle"
)

// MediaSource is one playable version of an item (a file, or a part of a multi-version item)
type MediaSource struct {
	ID           string        `json:"id"`
	ItemID       string        `json:"item_id"`
	Path         string        `json:"path,omitempty"`
	Container    string        `json:"container,omitempty"`
	Protocol     string        `json:"protocol,omitempty"`
	MediaStreams []MediaStream `json:"media_streams,omitempty"`
}

// MediaStream is a single elementary stream inside a media source
type MediaStream struct {
	Index      int        `json:"index"`
	Type       StreamType `json:"type"`
	Codec      string     `json:"codec"`
	Language   string     `json:"language,omitempty"`
	Title      string     `json:"title,omitempty"`
	IsExternal bool       `json:"is_external"`
	// IsTextSubtitleStream is reported by the server; when false the codec decides
	IsTextSubtitleStream bool `json:"is_text_subtitle_stream"`
}

// textSubtitleCodecs maps text subtitle codecs to their sidecar file format
var textSubtitleCodecs = map[string]string{
	"subrip":   "srt",
	"srt":      "srt",
	"ass":      "ass",
	"ssa":      "ssa",
	"webvtt":   "vtt",
	"vtt":      "vtt",
	"mov_text": "srt",
	"text":     "srt",
	"ttml":     "ttml",
}

// IsTextSubtitle reports whether the stream is a text (not bitmap) subtitle
func (s MediaStream) IsTextSubtitle() bool {
	if s.Type != StreamTypeSubtitle {
		return false
	}
	if s.IsTextSubtitleStream {
		return true
	}
	_, ok := textSubtitleCodecs[strings.ToLower(s.Codec)]
	return ok
}

// IsExtractable reports whether the stream is an embedded text subtitle that can be
// written to a sidecar file
func (s MediaStream) IsExtractable() bool {
	return !s.IsExternal && s.IsTextSubtitle()
}

// SidecarFormat returns the file extension a stream is extracted to
func (s MediaStream) SidecarFormat() string {
	if ext, ok := textSubtitleCodecs[strings.ToLower(s.Codec)]; ok {
		return ext
	}
	return "srt"
}

// ExtractableStreams returns the source's embedded text subtitle streams
func (m *MediaSource) ExtractableStreams() []MediaStream {
	var out []MediaStream
	for _, s := range m.MediaStreams {
		if s.IsExtractable() {
			out = append(out, s)
		}
	}
	return out
}
