package mediaserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// FetchSubtitle requests a subtitle stream from the server. Serving the stream makes the
// server extract it from the container and keep it in its subtitle cache, which is what
// lets the web player load it later without transcoding. The body is discarded and its
// size returned.
func (c *Client) FetchSubtitle(ctx context.Context, itemID, mediaSourceID string, streamIndex int, format string) (int64, error) {
	endpoint := fmt.Sprintf("%s/Videos/%s/%s/Subtitles/%d/Stream.%s",
		c.baseURL, url.PathEscape(itemID), url.PathEscape(mediaSourceID), streamIndex, url.PathEscape(format))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)
	req.Header.Set("Accept", "*/*")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, c.statusError(resp)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read subtitle stream: %w", err)
	}
	return n, nil
}
