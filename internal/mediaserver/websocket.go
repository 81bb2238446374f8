package mediaserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/config"
)

// LibraryChange lists items the server reported as added or updated
type LibraryChange struct {
	ItemsAdded   []string `json:"ItemsAdded"`
	ItemsUpdated []string `json:"ItemsUpdated"`
	ItemsRemoved []string `json:"ItemsRemoved"`
}

// ItemIDs returns added and updated item ids, without duplicates
func (lc LibraryChange) ItemIDs() []string {
	seen := make(map[string]struct{}, len(lc.ItemsAdded)+len(lc.ItemsUpdated))
	var ids []string
	for _, list := range [][]string{lc.ItemsAdded, lc.ItemsUpdated} {
		for _, id := range list {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// WatchLibraryChanges keeps a WebSocket connection to the server and calls the callback
// for every LibraryChanged notification. It reconnects with exponential backoff and
// blocks until the context is cancelled.
func (c *Client) WatchLibraryChanges(ctx context.Context, callback func(LibraryChange)) error {
	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 5 * time.Minute
	)

	pingInterval := config.GetTimeouts().WebSocketPing
	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.watchOnce(ctx, callback, pingInterval)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			log.Warn().
				Err(err).
				Dur("backoff", backoff).
				Msgf("%s WebSocket disconnected, reconnecting", c.profile.ServerName)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			backoff = min(backoff*2, maxBackoff)
		} else {
			backoff = initialBackoff
		}
	}
}

// watchOnce establishes a single WebSocket connection and handles messages
func (c *Client) watchOnce(ctx context.Context, callback func(LibraryChange), pingInterval time.Duration) error {
	wsURL, err := c.buildWebSocketURL()
	if err != nil {
		return fmt.Errorf("failed to build WebSocket URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("WebSocket dial failed: %w", err)
	}
	defer conn.Close()

	log.Info().Msgf("Connected to %s WebSocket", c.profile.ServerName)

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	readErrCh := make(chan error, 1)

	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}

			var msg mediaBrowserWSResponse
			if err := json.Unmarshal(message, &msg); err != nil {
				log.Debug().Err(err).Msg("Failed to parse WebSocket message")
				continue
			}

			if msg.MessageType != "LibraryChanged" {
				continue
			}

			change, err := parseLibraryChange(msg.Data)
			if err != nil {
				log.Debug().Err(err).Msg("Failed to parse LibraryChanged payload")
				continue
			}

			log.Debug().
				Int("added", len(change.ItemsAdded)).
				Int("updated", len(change.ItemsUpdated)).
				Msg("Received library change notification")

			callback(change)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case err := <-readErrCh:
			return err
		case <-pingTicker.C:
			if err := conn.WriteJSON(mediaBrowserWSMessage{MessageType: "KeepAlive"}); err != nil {
				return fmt.Errorf("keep-alive failed: %w", err)
			}
		}
	}
}

// parseLibraryChange decodes the LibraryChanged data, which Emby sends as a JSON string
// and Jellyfin as an object
func parseLibraryChange(data json.RawMessage) (LibraryChange, error) {
	var change LibraryChange
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return change, err
		}
		data = json.RawMessage(inner)
	}
	err := json.Unmarshal(data, &change)
	return change, err
}

// buildWebSocketURL constructs the WebSocket URL for the media server
func (c *Client) buildWebSocketURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}

	// Keep any base path the server is hosted under
	parsed.Path = parsed.Path + c.profile.WebSocketPath
	parsed.RawQuery = c.profile.WebSocketQueryParams(c.cfg.APIKey).Encode()

	return parsed.String(), nil
}

// WebSocket message structures
type mediaBrowserWSMessage struct {
	MessageType string `json:"MessageType"`
	Data        string `json:"Data,omitempty"`
}

type mediaBrowserWSResponse struct {
	MessageType string          `json:"MessageType"`
	Data        json.RawMessage `json:"Data,omitempty"`
}
