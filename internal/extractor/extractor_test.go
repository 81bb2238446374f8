package extractor

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/saltyorg/subextract/internal/encoder"
	"github.com/saltyorg/subextract/internal/library"
	"github.com/saltyorg/subextract/internal/runctx"
)

type fakeEncoder struct {
	calls  []string
	items  []string
	fail   map[string]error
	onCall func()
}

func (f *fakeEncoder) ExtractAllExtractableSubtitles(ctx context.Context, src library.MediaSource) error {
	f.calls = append(f.calls, src.ItemID+":"+src.ID+":"+src.Path)
	if item, ok := runctx.Item(ctx); ok {
		f.items = append(f.items, item.ID)
	}
	if f.onCall != nil {
		f.onCall()
	}
	return f.fail[src.ID]
}

func TestRun_ExtractsEverySource(t *testing.T) {
	enc := &fakeEncoder{fail: map[string]error{"a": errors.New("broken file")}}
	ex := New(enc)

	item := library.Item{
		ID:   "item1",
		Name: "Film",
		Path: "/media/film.mkv",
		MediaSources: []library.MediaSource{
			{ID: "a", ItemID: "item1", Path: "/media/film-a.mkv"},
			{ID: "b"},
		},
	}

	if err := ex.Run(context.Background(), item); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"item1:a:/media/film-a.mkv", "item1:b:/media/film.mkv"}
	if !slices.Equal(enc.calls, want) {
		t.Errorf("calls = %v, want %v", enc.calls, want)
	}
	if !slices.Equal(enc.items, []string{"item1", "item1"}) {
		t.Errorf("encoder should see the item in context, got %v", enc.items)
	}
}

func TestRun_NoPathIsNotFatal(t *testing.T) {
	enc := &fakeEncoder{fail: map[string]error{"a": encoder.ErrNoPath}}
	item := library.Item{ID: "i", MediaSources: []library.MediaSource{{ID: "a"}}}
	if err := New(enc).Run(context.Background(), item); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestRun_ReturnsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	enc := &fakeEncoder{}
	enc.onCall = cancel

	item := library.Item{ID: "i", MediaSources: []library.MediaSource{{ID: "a"}, {ID: "b"}}}
	err := New(enc).Run(ctx, item)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(enc.calls) != 1 {
		t.Errorf("expected one source before cancel, got %v", enc.calls)
	}
}

func TestRunAll(t *testing.T) {
	enc := &fakeEncoder{}
	items := []library.Item{
		{ID: "1", MediaSources: []library.MediaSource{{ID: "s1"}}},
		{ID: "2", MediaSources: []library.MediaSource{{ID: "s2"}}},
	}
	if err := New(enc).RunAll(context.Background(), items); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(enc.calls) != 2 {
		t.Errorf("calls = %v", enc.calls)
	}
}
