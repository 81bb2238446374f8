// Package mediaserver talks to Jellyfin and Emby over their HTTP and WebSocket APIs.
// Both servers are forks of MediaBrowser and share nearly identical APIs, so a single
// client covers both with small per-server differences held in serverProfile.
package mediaserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/saltyorg/subextract/internal/config"
	"github.com/saltyorg/subextract/internal/httpclient"
)

// ServerConfig identifies a media server
type ServerConfig struct {
	// Type is config.ServerTypeJellyfin or config.ServerTypeEmby
	Type   string
	URL    string
	APIKey string
	// UserID scopes item queries to /Users/{id}/Items when set
	UserID string
}

// serverProfile holds what differs between Jellyfin and Emby
type serverProfile struct {
	// ServerName is used in log and error messages
	ServerName string

	// SetAuthHeader sets the appropriate authentication header for requests
	SetAuthHeader func(req *http.Request, apiKey string)

	// WebSocketPath is the path for WebSocket connections
	WebSocketPath string

	// WebSocketQueryParams returns the query params for the WebSocket URL
	WebSocketQueryParams func(apiKey string) url.Values
}

func profileFor(serverType string) serverProfile {
	if serverType == config.ServerTypeEmby {
		return serverProfile{
			ServerName: "Emby",
			SetAuthHeader: func(req *http.Request, apiKey string) {
				req.Header.Set("X-Emby-Token", apiKey)
			},
			WebSocketPath: "/embywebsocket",
			WebSocketQueryParams: func(apiKey string) url.Values {
				q := url.Values{}
				q.Set("api_key", apiKey)
				q.Set("deviceId", "subextract")
				return q
			},
		}
	}
	return serverProfile{
		ServerName: "Jellyfin",
		SetAuthHeader: func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", fmt.Sprintf("MediaBrowser Token=\"%s\"", apiKey))
		},
		WebSocketPath: "/socket",
		WebSocketQueryParams: func(apiKey string) url.Values {
			q := url.Values{}
			q.Set("api_key", apiKey)
			return q
		},
	}
}

// Client is a Jellyfin/Emby API client
type Client struct {
	cfg     ServerConfig
	profile serverProfile
	baseURL string
	// client serves short API calls; streamClient serves subtitle requests, which block
	// while the server demuxes the whole file
	client       *http.Client
	streamClient *http.Client
}

// New creates a client for the configured server
func New(cfg ServerConfig) *Client {
	timeouts := config.GetTimeouts()
	profile := profileFor(cfg.Type)
	name := strings.ToLower(profile.ServerName)

	return &Client{
		cfg:          cfg,
		profile:      profile,
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		client:       httpclient.NewTraceClient(name, timeouts.HTTPClient),
		streamClient: httpclient.NewTraceClient(name+"-stream", timeouts.Extraction),
	}
}

// ServerName returns "Jellyfin" or "Emby"
func (c *Client) ServerName() string {
	return c.profile.ServerName
}

// setHeaders sets the authentication headers for requests
func (c *Client) setHeaders(req *http.Request) {
	c.profile.SetAuthHeader(req, c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
}

// getJSON performs an authenticated GET and decodes a JSON response into out
func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	reqURL := c.baseURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError builds an error from a non-success response, including a short body excerpt
func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s rejected the API key (status %d)", c.profile.ServerName, resp.StatusCode)
	}
	return fmt.Errorf("%s returned status %d: %s", c.profile.ServerName, resp.StatusCode, strings.TrimSpace(string(body)))
}

// SystemInfo is the subset of /System/Info used for diagnostics
type SystemInfo struct {
	ServerName      string `json:"ServerName"`
	Version         string `json:"Version"`
	ID              string `json:"Id"`
	OperatingSystem string `json:"OperatingSystem"`
}

// SystemInfo returns the server's identity and version
func (c *Client) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.getJSON(ctx, "/System/Info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// TestConnection verifies the server is reachable and accepts the API key
func (c *Client) TestConnection(ctx context.Context) error {
	if _, err := c.SystemInfo(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	return nil
}
