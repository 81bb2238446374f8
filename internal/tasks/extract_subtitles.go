// Package tasks contains the scheduled tasks subextract registers with the scheduler.
package tasks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/library"
	"github.com/saltyorg/subextract/internal/localization"
	"github.com/saltyorg/subextract/internal/plugin"
	"github.com/saltyorg/subextract/internal/scheduler"
)

// ExtractSubtitlesKey is the fixed key of the extraction task
const ExtractSubtitlesKey = "ExtractSubtitles"

// QueryPageLimit is the number of items fetched per library page
const QueryPageLimit = 100

// ItemExtractor extracts the subtitles of one item
type ItemExtractor interface {
	Run(ctx context.Context, item library.Item) error
}

// Localizer resolves localized strings
type Localizer interface {
	GetLocalizedString(key string) string
}

// ExtractSubtitlesTask walks every video in the library that has subtitles and extracts
// its embedded text subtitles, one item at a time
type ExtractSubtitlesTask struct {
	library   library.Manager
	extractor ItemExtractor
	localizer Localizer
}

// NewExtractSubtitlesTask creates the task
func NewExtractSubtitlesTask(lib library.Manager, extractor ItemExtractor, localizer Localizer) *ExtractSubtitlesTask {
	return &ExtractSubtitlesTask{
		library:   lib,
		extractor: extractor,
		localizer: localizer,
	}
}

// Key implements scheduler.Task
func (t *ExtractSubtitlesTask) Key() string { return ExtractSubtitlesKey }

// Name implements scheduler.Task
func (t *ExtractSubtitlesTask) Name() string { return plugin.Current().Name }

// Description implements scheduler.Task
func (t *ExtractSubtitlesTask) Description() string { return plugin.Current().Description }

// Category implements scheduler.Task
func (t *ExtractSubtitlesTask) Category() string {
	return t.localizer.GetLocalizedString(localization.TasksLibraryCategory)
}

// DefaultTriggers implements scheduler.Task. The task only runs when asked to or when
// triggers are configured.
func (t *ExtractSubtitlesTask) DefaultTriggers() []scheduler.TriggerInfo {
	return []scheduler.TriggerInfo{}
}

// Query returns the library query the task pages through
func Query() library.Query {
	return library.Query{
		Recursive:        true,
		HasSubtitles:     library.Bool(true),
		IsVirtualItem:    library.Bool(false),
		IncludeItemTypes: []library.ItemKind{library.ItemKindEpisode, library.ItemKindMovie},
		MediaTypes:       []library.MediaType{library.MediaTypeVideo},
		SourceTypes:      []library.SourceType{library.SourceTypeLibrary},
		Limit:            QueryPageLimit,
	}
}

// Execute implements scheduler.Task. The item count is read once and only drives the
// progress percentage; paging stops when the offset reaches it.
func (t *ExtractSubtitlesTask) Execute(ctx context.Context, progress scheduler.Progress) error {
	query := Query()

	numberOfVideos, err := t.library.GetCount(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to count library items: %w", err)
	}

	log.Info().Int("items", numberOfVideos).Msg("Extracting subtitles")

	items, _ := progress.(scheduler.ItemProgress)
	completedVideos := 0

	for startIndex := 0; startIndex < numberOfVideos; startIndex += QueryPageLimit {
		query.StartIndex = startIndex
		videos, err := t.library.GetItemList(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to fetch library items at %d: %w", startIndex, err)
		}

		log.Debug().
			Int("start_index", startIndex).
			Int("page_items", len(videos)).
			Msg("Fetched library page")

		for _, video := range videos {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := t.extractor.Run(ctx, video); err != nil {
				return err
			}

			completedVideos++
			if items != nil {
				items.ReportItems(completedVideos, numberOfVideos)
			}
			progress.Report(100 * float64(completedVideos) / float64(numberOfVideos))
		}
	}

	progress.Report(100)

	log.Info().Int("items", completedVideos).Msg("Subtitle extraction finished")
	return nil
}
