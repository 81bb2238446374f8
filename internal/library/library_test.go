package library

import "testing"

func TestItemMatches(t *testing.T) {
	query := Query{
		Recursive:        true,
		HasSubtitles:     Bool(true),
		IsVirtualItem:    Bool(false),
		IncludeItemTypes: []ItemKind{ItemKindEpisode, ItemKindMovie},
		MediaTypes:       []MediaType{MediaTypeVideo},
		SourceTypes:      []SourceType{SourceTypeLibrary},
	}

	withSubs := []MediaSource{{ID: "s", MediaStreams: []MediaStream{{Index: 2, Type: StreamTypeSubtitle, Codec: "subrip"}}}}
	withoutSubs := []MediaSource{{ID: "s", MediaStreams: []MediaStream{{Index: 0, Type: StreamTypeVideo, Codec: "h264"}}}}

	tests := []struct {
		name string
		item Item
		want bool
	}{
		{"movie with subtitles", Item{Type: ItemKindMovie, MediaType: MediaTypeVideo, MediaSources: withSubs}, true},
		{"episode without sources returned", Item{Type: ItemKindEpisode, MediaType: MediaTypeVideo}, true},
		{"series excluded", Item{Type: ItemKindSeries}, false},
		{"audio media type", Item{Type: ItemKindMovie, MediaType: MediaTypeAudio}, false},
		{"channel item", Item{Type: ItemKindMovie, ChannelID: "c1"}, false},
		{"virtual episode", Item{Type: ItemKindEpisode, LocationType: "Virtual"}, false},
		{"no subtitle streams", Item{Type: ItemKindMovie, MediaSources: withoutSubs}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.Matches(query); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestItemMatches_IDs(t *testing.T) {
	q := Query{IDs: []string{"a", "b"}}
	if !(&Item{ID: "a"}).Matches(q) {
		t.Error("expected id a to match")
	}
	if (&Item{ID: "c"}).Matches(q) {
		t.Error("expected id c not to match")
	}
}

func TestMediaStream_Extractable(t *testing.T) {
	tests := []struct {
		name   string
		stream MediaStream
		want   bool
		format string
	}{
		{"subrip", MediaStream{Type: StreamTypeSubtitle, Codec: "subrip"}, true, "srt"},
		{"ass upper case", MediaStream{Type: StreamTypeSubtitle, Codec: "ASS"}, true, "ass"},
		{"webvtt", MediaStream{Type: StreamTypeSubtitle, Codec: "webvtt"}, true, "vtt"},
		{"mov_text", MediaStream{Type: StreamTypeSubtitle, Codec: "mov_text"}, true, "srt"},
		{"pgs bitmap", MediaStream{Type: StreamTypeSubtitle, Codec: "hdmv_pgs_subtitle"}, false, "srt"},
		{"server says text", MediaStream{Type: StreamTypeSubtitle, Codec: "unknown", IsTextSubtitleStream: true}, true, "srt"},
		{"external file", MediaStream{Type: StreamTypeSubtitle, Codec: "subrip", IsExternal: true}, false, "srt"},
		{"audio", MediaStream{Type: StreamTypeAudio, Codec: "aac"}, false, "srt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stream.IsExtractable(); got != tt.want {
				t.Errorf("IsExtractable() = %v, want %v", got, tt.want)
			}
			if got := tt.stream.SidecarFormat(); got != tt.format {
				t.Errorf("SidecarFormat() = %q, want %q", got, tt.format)
			}
		})
	}
}

func TestMediaSource_ExtractableStreams(t *testing.T) {
	src := MediaSource{MediaStreams: []MediaStream{
		{Index: 0, Type: StreamTypeVideo, Codec: "hevc"},
		{Index: 1, Type: StreamTypeAudio, Codec: "eac3"},
		{Index: 2, Type: StreamTypeSubtitle, Codec: "subrip", Language: "eng"},
		{Index: 3, Type: StreamTypeSubtitle, Codec: "hdmv_pgs_subtitle"},
		{Index: 4, Type: StreamTypeSubtitle, Codec: "ass", Language: "jpn"},
	}}

	got := src.ExtractableStreams()
	if len(got) != 2 || got[0].Index != 2 || got[1].Index != 4 {
		t.Errorf("ExtractableStreams() = %+v", got)
	}
}

func TestItemDisplayName(t *testing.T) {
	ep := Item{Name: "Pilot", Type: ItemKindEpisode, SeriesName: "Show"}
	if got := ep.DisplayName(); got != "Show - Pilot" {
		t.Errorf("DisplayName() = %q", got)
	}
	movie := Item{Name: "Film", Type: ItemKindMovie}
	if got := movie.DisplayName(); got != "Film" {
		t.Errorf("DisplayName() = %q", got)
	}
}
