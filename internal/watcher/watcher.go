// Package watcher extracts subtitles of items as soon as the media server reports them
// added or updated, instead of waiting for the next full task run.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/library"
	"github.com/saltyorg/subextract/internal/mediaserver"
	"github.com/saltyorg/subextract/internal/web/sse"
)

// ChangeSource delivers library change notifications until ctx is done
type ChangeSource interface {
	WatchLibraryChanges(ctx context.Context, callback func(mediaserver.LibraryChange)) error
}

// ItemExtractor extracts the subtitles of one item
type ItemExtractor interface {
	Run(ctx context.Context, item library.Item) error
}

// Watcher batches changed item ids and extracts them after a quiet period
type Watcher struct {
	source    ChangeSource
	library   library.Manager
	extractor ItemExtractor
	query     library.Query
	debounce  time.Duration
	sseBroker *sse.Broker

	mu      sync.Mutex
	pending map[string]struct{}
	notify  chan struct{}
}

// New creates a watcher. Items are fetched with query (paging fields are ignored) restricted
// to the changed ids, so items the full task would skip are skipped here too.
func New(source ChangeSource, lib library.Manager, extractor ItemExtractor, query library.Query, debounce time.Duration) *Watcher {
	return &Watcher{
		source:    source,
		library:   lib,
		extractor: extractor,
		query:     query,
		debounce:  debounce,
		pending:   make(map[string]struct{}),
		notify:    make(chan struct{}, 1),
	}
}

// SetSSEBroker sets the SSE broker for broadcasting events
func (w *Watcher) SetSSEBroker(broker *sse.Broker) {
	w.sseBroker = broker
}

// Run watches for changes until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	log.Info().Dur("debounce", w.debounce).Msg("Library change watcher started")

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.source.WatchLibraryChanges(ctx, w.enqueue)
	}()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			<-errCh
			log.Info().Msg("Library change watcher stopped")
			return ctx.Err()

		case err := <-errCh:
			return err

		case <-w.notify:
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.flush(ctx)
		}
	}
}

// enqueue records changed ids and restarts the debounce window
func (w *Watcher) enqueue(change mediaserver.LibraryChange) {
	ids := change.ItemIDs()
	if len(ids) == 0 {
		return
	}

	w.mu.Lock()
	for _, id := range ids {
		w.pending[id] = struct{}{}
	}
	total := len(w.pending)
	w.mu.Unlock()

	log.Debug().Int("changed", len(ids)).Int("pending", total).Msg("Queued changed library items")

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *Watcher) takePending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	clear(w.pending)
	return ids
}

// flush fetches the pending items in pages and extracts each
func (w *Watcher) flush(ctx context.Context) {
	ids := w.takePending()
	if len(ids) == 0 {
		return
	}

	if w.sseBroker != nil {
		w.sseBroker.Broadcast(sse.Event{Type: sse.EventLibraryChanged, Data: map[string]any{"items": len(ids)}})
	}

	pageSize := w.query.Limit
	if pageSize <= 0 {
		pageSize = 100
	}

	extracted := 0
	for start := 0; start < len(ids); start += pageSize {
		q := w.query
		q.IDs = ids[start:min(start+pageSize, len(ids))]
		q.StartIndex = 0
		q.Limit = 0

		items, err := w.library.GetItemList(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Int("items", len(q.IDs)).Msg("Failed to fetch changed library items")
			continue
		}

		for _, item := range items {
			if err := w.extractor.Run(ctx, item); err != nil {
				return
			}
			extracted++
		}
	}

	log.Info().Int("changed", len(ids)).Int("extracted", extracted).Msg("Extracted subtitles for changed items")
}
