package mediaserver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/library"
)

// itemFields are requested so items carry their media sources and streams
const itemFields = "Path,MediaSources,MediaStreams"

// mediaBrowserItem represents an item in the media server library
type mediaBrowserItem struct {
	ID           string                    `json:"Id"`
	Name         string                    `json:"Name"`
	Type         string                    `json:"Type"`
	MediaType    string                    `json:"MediaType"`
	Path         string                    `json:"Path"`
	LocationType string                    `json:"LocationType"`
	ChannelID    string                    `json:"ChannelId"`
	SeriesName   string                    `json:"SeriesName"`
	MediaSources []mediaBrowserMediaSource `json:"MediaSources"`
	MediaStreams []mediaBrowserMediaStream `json:"MediaStreams"`
}

type mediaBrowserMediaSource struct {
	ID           string                    `json:"Id"`
	Path         string                    `json:"Path"`
	Container    string                    `json:"Container"`
	Protocol     string                    `json:"Protocol"`
	MediaStreams []mediaBrowserMediaStream `json:"MediaStreams"`
}

type mediaBrowserMediaStream struct {
	Index                int    `json:"Index"`
	Type                 string `json:"Type"`
	Codec                string `json:"Codec"`
	Language             string `json:"Language"`
	Title                string `json:"Title"`
	IsExternal           bool   `json:"IsExternal"`
	IsTextSubtitleStream bool   `json:"IsTextSubtitleStream"`
}

// mediaBrowserItemsResponse represents the response from the /Items endpoint
type mediaBrowserItemsResponse struct {
	Items            []mediaBrowserItem `json:"Items"`
	TotalRecordCount int                `json:"TotalRecordCount"`
}

// GetCount implements library.Manager using the server's total record count
func (c *Client) GetCount(ctx context.Context, q library.Query) (int, error) {
	params := c.queryParams(q)
	params.Set("Limit", "0")
	params.Del("StartIndex")
	params.Set("EnableTotalRecordCount", "true")

	var resp mediaBrowserItemsResponse
	if err := c.getJSON(ctx, c.itemsEndpoint(), params, &resp); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return resp.TotalRecordCount, nil
}

// GetItemList implements library.Manager, returning one page of items. Items the server
// returned that fail filters it cannot express (source type, virtual) are dropped.
func (c *Client) GetItemList(ctx context.Context, q library.Query) ([]library.Item, error) {
	params := c.queryParams(q)
	params.Set("EnableTotalRecordCount", "false")

	var resp mediaBrowserItemsResponse
	if err := c.getJSON(ctx, c.itemsEndpoint(), params, &resp); err != nil {
		return nil, fmt.Errorf("failed to list items at %d: %w", q.StartIndex, err)
	}

	items := make([]library.Item, 0, len(resp.Items))
	for _, raw := range resp.Items {
		item := convertItem(raw)
		if !item.Matches(q) {
			log.Trace().
				Str("item_id", item.ID).
				Str("name", item.Name).
				Msg("Skipping item excluded by query filters")
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

func (c *Client) itemsEndpoint() string {
	if c.cfg.UserID != "" {
		return "/Users/" + url.PathEscape(c.cfg.UserID) + "/Items"
	}
	return "/Items"
}

// queryParams translates a library query into /Items query parameters
func (c *Client) queryParams(q library.Query) url.Values {
	params := url.Values{}
	params.Set("Fields", itemFields)
	params.Set("EnableImages", "false")
	params.Set("EnableUserData", "false")

	if q.Recursive {
		params.Set("Recursive", "true")
	}
	if q.HasSubtitles != nil {
		params.Set("HasSubtitles", strconv.FormatBool(*q.HasSubtitles))
	}
	if q.IsVirtualItem != nil {
		// /Items has no IsVirtualItem filter; location types express the same thing
		if *q.IsVirtualItem {
			params.Set("LocationTypes", library.LocationTypeVirtual)
		} else {
			params.Set("ExcludeLocationTypes", library.LocationTypeVirtual)
		}
	}
	if len(q.IncludeItemTypes) > 0 {
		params.Set("IncludeItemTypes", joinStrings(q.IncludeItemTypes))
	}
	if len(q.MediaTypes) > 0 {
		params.Set("MediaTypes", joinStrings(q.MediaTypes))
	}
	if q.ParentID != "" {
		params.Set("ParentId", q.ParentID)
	}
	if len(q.IDs) > 0 {
		params.Set("Ids", strings.Join(q.IDs, ","))
	}
	if q.StartIndex > 0 {
		params.Set("StartIndex", strconv.Itoa(q.StartIndex))
	}
	if q.Limit > 0 {
		params.Set("Limit", strconv.Itoa(q.Limit))
	}
	// Stable paging across requests
	params.Set("SortBy", "SortName,Id")
	params.Set("SortOrder", "Ascending")

	return params
}

func joinStrings[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}

func convertItem(raw mediaBrowserItem) library.Item {
	item := library.Item{
		ID:           raw.ID,
		Name:         raw.Name,
		Type:         library.ItemKind(raw.Type),
		MediaType:    library.MediaType(raw.MediaType),
		Path:         raw.Path,
		LocationType: raw.LocationType,
		ChannelID:    raw.ChannelID,
		SeriesName:   raw.SeriesName,
	}

	for _, src := range raw.MediaSources {
		item.MediaSources = append(item.MediaSources, library.MediaSource{
			ID:           src.ID,
			ItemID:       raw.ID,
			Path:         src.Path,
			Container:    src.Container,
			Protocol:     src.Protocol,
			MediaStreams: convertStreams(src.MediaStreams),
		})
	}

	// Some server versions only return item-level streams; treat them as one source
	if len(item.MediaSources) == 0 && len(raw.MediaStreams) > 0 {
		item.MediaSources = []library.MediaSource{{
			ID:           raw.ID,
			ItemID:       raw.ID,
			Path:         raw.Path,
			MediaStreams: convertStreams(raw.MediaStreams),
		}}
	}

	return item
}

func convertStreams(raw []mediaBrowserMediaStream) []library.MediaStream {
	streams := make([]library.MediaStream, 0, len(raw))
	for _, s := range raw {
		streams = append(streams, library.MediaStream{
			Index:                s.Index,
			Type:                 library.StreamType(s.Type),
			Codec:                s.Codec,
			Language:             s.Language,
			Title:                s.Title,
			IsExternal:           s.IsExternal,
			IsTextSubtitleStream: s.IsTextSubtitleStream,
		})
	}
	return streams
}
