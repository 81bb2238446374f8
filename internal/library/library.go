// Package library describes the media server's library index: the query used to select
// items and the items, media sources, and streams it returns.
package library

import (
	"context"
	"slices"
	"strings"
)

// ItemKind is the media server's item type
type ItemKind string

const (
	ItemKindMovie   ItemKind = "Movie"
	ItemKindEpisode ItemKind = "Episode"
	ItemKindSeries  ItemKind = "Series"
	ItemKindAudio   ItemKind = "Audio"
)

// MediaType is the broad media class of an item
type MediaType string

const (
	MediaTypeVideo MediaType = "Video"
	MediaTypeAudio MediaType = "Audio"
)

// SourceType tells where an item comes from
type SourceType string

const (
	SourceTypeLibrary SourceType = "Library"
	SourceTypeChannel SourceType = "Channel"
	SourceTypeLiveTV  SourceType = "LiveTV"
)

// LocationTypeVirtual marks placeholder items (e.g. missing episodes) without a file
const LocationTypeVirtual = "Virtual"

// Query selects library items. Nil pointer filters are not applied.
type Query struct {
	Recursive        bool
	HasSubtitles     *bool
	IsVirtualItem    *bool
	IncludeItemTypes []ItemKind
	MediaTypes       []MediaType
	SourceTypes      []SourceType
	ParentID         string
	IDs              []string
	StartIndex       int
	Limit            int
}

// Manager is the host's library index
type Manager interface {
	// GetCount returns the number of items matching the query, ignoring StartIndex and Limit
	GetCount(ctx context.Context, q Query) (int, error)

	// GetItemList returns one page of matching items
	GetItemList(ctx context.Context, q Query) ([]Item, error)
}

// Item is a library entry
type Item struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Type         ItemKind      `json:"type"`
	MediaType    MediaType     `json:"media_type"`
	Path         string        `json:"path,omitempty"`
	LocationType string        `json:"location_type,omitempty"`
	ChannelID    string        `json:"channel_id,omitempty"`
	SeriesName   string        `json:"series_name,omitempty"`
	MediaSources []MediaSource `json:"media_sources,omitempty"`
}

// SourceType derives the item's source from the fields the server reports
func (i *Item) SourceType() SourceType {
	if i.ChannelID != "" {
		return SourceTypeChannel
	}
	return SourceTypeLibrary
}

// IsVirtual reports whether the item has no backing file
func (i *Item) IsVirtual() bool {
	return strings.EqualFold(i.LocationType, LocationTypeVirtual)
}

// DisplayName is "Series - Episode" for episodes and the plain name otherwise
func (i *Item) DisplayName() string {
	if i.Type == ItemKindEpisode && i.SeriesName != "" {
		return i.SeriesName + " - " + i.Name
	}
	return i.Name
}

// HasSubtitles reports whether any media source carries a subtitle stream
func (i *Item) HasSubtitles() bool {
	for _, src := range i.MediaSources {
		for _, s := range src.MediaStreams {
			if s.Type == StreamTypeSubtitle {
				return true
			}
		}
	}
	return false
}

// Matches applies the query's filters to an item. It is used to enforce filters that a
// remote API cannot express, so fields the server did not return are treated leniently:
// HasSubtitles is only checked when media sources were returned.
func (i *Item) Matches(q Query) bool {
	if len(q.IncludeItemTypes) > 0 && !slices.Contains(q.IncludeItemTypes, i.Type) {
		return false
	}
	if len(q.MediaTypes) > 0 && i.MediaType != "" && !slices.Contains(q.MediaTypes, i.MediaType) {
		return false
	}
	if len(q.SourceTypes) > 0 && !slices.Contains(q.SourceTypes, i.SourceType()) {
		return false
	}
	if q.IsVirtualItem != nil && i.IsVirtual() != *q.IsVirtualItem {
		return false
	}
	if q.HasSubtitles != nil && len(i.MediaSources) > 0 && i.HasSubtitles() != *q.HasSubtitles {
		return false
	}
	if len(q.IDs) > 0 && !slices.Contains(q.IDs, i.ID) {
		return false
	}
	return true
}

// Bool returns a pointer to b, for the optional Query filters
func Bool(b bool) *bool {
	return &b
}
