package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/saltyorg/subextract/internal/library"
	"github.com/saltyorg/subextract/internal/localization"
	"github.com/saltyorg/subextract/internal/scheduler"
)

type fakeLibrary struct {
	count    int
	pages    map[int][]library.Item
	countErr error
	pageErr  error

	countCalls int
	starts     []int
	queries    []library.Query
}

func (f *fakeLibrary) GetCount(_ context.Context, q library.Query) (int, error) {
	f.countCalls++
	f.queries = append(f.queries, q)
	return f.count, f.countErr
}

func (f *fakeLibrary) GetItemList(_ context.Context, q library.Query) ([]library.Item, error) {
	f.starts = append(f.starts, q.StartIndex)
	f.queries = append(f.queries, q)
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	return f.pages[q.StartIndex], nil
}

type fakeExtractor struct {
	ids    []string
	onItem func(n int)
}

func (f *fakeExtractor) Run(ctx context.Context, item library.Item) error {
	f.ids = append(f.ids, item.ID)
	if f.onItem != nil {
		f.onItem(len(f.ids))
	}
	return nil
}

type recordingProgress struct {
	values []float64
	items  [][2]int
}

func (r *recordingProgress) Report(p float64) { r.values = append(r.values, p) }

func (r *recordingProgress) ReportItems(processed, total int) {
	r.items = append(r.items, [2]int{processed, total})
}

func items(prefix string, n int) []library.Item {
	out := make([]library.Item, n)
	for i := range out {
		out[i] = library.Item{ID: fmt.Sprintf("%s%d", prefix, i)}
	}
	return out
}

func newTask(lib *fakeLibrary, ex *fakeExtractor) *ExtractSubtitlesTask {
	return NewExtractSubtitlesTask(lib, ex, localization.New("en"))
}

func TestExecute_EmptyLibrary(t *testing.T) {
	lib := &fakeLibrary{count: 0}
	ex := &fakeExtractor{}
	progress := &recordingProgress{}

	if err := newTask(lib, ex).Execute(context.Background(), progress); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(lib.starts) != 0 {
		t.Errorf("no page should be fetched, got %v", lib.starts)
	}
	if !slices.Equal(progress.values, []float64{100}) {
		t.Errorf("progress = %v, want [100]", progress.values)
	}
}

func TestExecute_PagesUntilCountReached(t *testing.T) {
	// 250 items, but the middle page comes back short: paging still continues by 100
	lib := &fakeLibrary{
		count: 250,
		pages: map[int][]library.Item{
			0:   items("a", 100),
			100: items("b", 40),
			200: items("c", 50),
		},
	}
	ex := &fakeExtractor{}
	progress := &recordingProgress{}

	if err := newTask(lib, ex).Execute(context.Background(), progress); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if lib.countCalls != 1 {
		t.Errorf("count queried %d times, want 1", lib.countCalls)
	}
	if !slices.Equal(lib.starts, []int{0, 100, 200}) {
		t.Errorf("start indexes = %v", lib.starts)
	}
	if len(ex.ids) != 190 || ex.ids[0] != "a0" || ex.ids[100] != "b0" || ex.ids[189] != "c49" {
		t.Errorf("unexpected extraction order (%d items)", len(ex.ids))
	}

	if len(progress.values) != 191 {
		t.Fatalf("expected one report per item plus final, got %d", len(progress.values))
	}
	if progress.values[0] != 100.0/250 {
		t.Errorf("first progress = %v", progress.values[0])
	}
	if progress.values[189] != 100*190.0/250 {
		t.Errorf("last item progress = %v", progress.values[189])
	}
	if progress.values[190] != 100 {
		t.Errorf("final progress = %v", progress.values[190])
	}
	if last := progress.items[len(progress.items)-1]; last != [2]int{190, 250} {
		t.Errorf("last item counts = %v", last)
	}
}

func TestExecute_EmptyPageDoesNotStop(t *testing.T) {
	lib := &fakeLibrary{
		count: 150,
		pages: map[int][]library.Item{
			100: items("x", 3),
		},
	}
	ex := &fakeExtractor{}
	if err := newTask(lib, ex).Execute(context.Background(), &recordingProgress{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(lib.starts, []int{0, 100}) || len(ex.ids) != 3 {
		t.Errorf("starts = %v, ids = %v", lib.starts, ex.ids)
	}
}

func TestExecute_QueryFilters(t *testing.T) {
	lib := &fakeLibrary{count: 1, pages: map[int][]library.Item{0: items("a", 1)}}
	if err := newTask(lib, &fakeExtractor{}).Execute(context.Background(), &recordingProgress{}); err != nil {
		t.Fatal(err)
	}

	for _, q := range lib.queries {
		if !q.Recursive || q.Limit != QueryPageLimit {
			t.Errorf("unexpected paging: %+v", q)
		}
		if q.HasSubtitles == nil || !*q.HasSubtitles || q.IsVirtualItem == nil || *q.IsVirtualItem {
			t.Errorf("unexpected flags: %+v", q)
		}
		if !slices.Equal(q.IncludeItemTypes, []library.ItemKind{library.ItemKindEpisode, library.ItemKindMovie}) {
			t.Errorf("item types = %v", q.IncludeItemTypes)
		}
		if !slices.Equal(q.MediaTypes, []library.MediaType{library.MediaTypeVideo}) {
			t.Errorf("media types = %v", q.MediaTypes)
		}
		if !slices.Equal(q.SourceTypes, []library.SourceType{library.SourceTypeLibrary}) {
			t.Errorf("source types = %v", q.SourceTypes)
		}
	}
}

func TestExecute_CancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lib := &fakeLibrary{count: 5, pages: map[int][]library.Item{0: items("a", 5)}}
	ex := &fakeExtractor{onItem: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	progress := &recordingProgress{}

	err := newTask(lib, ex).Execute(ctx, progress)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(ex.ids) != 2 {
		t.Errorf("extracted %d items, want 2", len(ex.ids))
	}
	if !slices.Equal(progress.values, []float64{20, 40}) {
		t.Errorf("progress = %v, want [20 40] and no final report", progress.values)
	}
}

func TestExecute_LibraryErrors(t *testing.T) {
	boom := errors.New("server unreachable")

	err := newTask(&fakeLibrary{countErr: boom}, &fakeExtractor{}).Execute(context.Background(), &recordingProgress{})
	if !errors.Is(err, boom) {
		t.Errorf("count error = %v", err)
	}

	err = newTask(&fakeLibrary{count: 10, pageErr: boom}, &fakeExtractor{}).Execute(context.Background(), &recordingProgress{})
	if !errors.Is(err, boom) {
		t.Errorf("page error = %v", err)
	}
}

func TestExecute_PlainProgress(t *testing.T) {
	lib := &fakeLibrary{count: 2, pages: map[int][]library.Item{0: items("a", 2)}}
	var values []float64
	err := newTask(lib, &fakeExtractor{}).Execute(context.Background(), scheduler.ProgressFunc(func(p float64) {
		values = append(values, p)
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(values, []float64{50, 100, 100}) {
		t.Errorf("progress = %v", values)
	}
}

func TestMetadata(t *testing.T) {
	task := newTask(&fakeLibrary{}, &fakeExtractor{})
	if task.Key() != "ExtractSubtitles" {
		t.Errorf("Key = %q", task.Key())
	}
	if task.Name() != "Subtitle Extract" || task.Description() != "Extracts embedded subtitles." {
		t.Errorf("Name/Description = %q/%q", task.Name(), task.Description())
	}
	if task.Category() != "Library" {
		t.Errorf("Category = %q", task.Category())
	}
	if de := NewExtractSubtitlesTask(nil, nil, localization.New("de")); de.Category() != "Bibliothek" {
		t.Errorf("German category = %q", de.Category())
	}
	if triggers := task.DefaultTriggers(); len(triggers) != 0 {
		t.Errorf("DefaultTriggers = %v", triggers)
	}
}

var _ scheduler.Task = (*ExtractSubtitlesTask)(nil)
