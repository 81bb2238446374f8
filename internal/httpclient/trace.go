// Package httpclient builds the HTTP clients used to talk to the media server.
package httpclient

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxLoggedBody caps how much of a response body is copied into a trace log line
const maxLoggedBody = 4096

type traceTransport struct {
	base http.RoundTripper
	name string
}

// NewTraceTransport returns a RoundTripper that logs requests at trace level
func NewTraceTransport(name string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &traceTransport{base: base, name: name}
}

// NewTraceClient returns an HTTP client with the given timeout that logs requests at
// trace level. A zero timeout means no client-side limit.
func NewTraceClient(name string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTraceTransport(name, nil),
	}
}

func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Skip all body buffering unless someone will see it
	if zerolog.GlobalLevel() > zerolog.TraceLevel {
		return t.base.RoundTrip(req)
	}

	urlStr := RedactURL(req.URL)
	start := time.Now()

	log.Trace().
		Str("client", t.name).
		Str("method", req.Method).
		Str("url", urlStr).
		Msg("HTTP request")

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		log.Trace().
			Str("client", t.name).
			Str("method", req.Method).
			Str("url", urlStr).
			Dur("duration", duration).
			Err(err).
			Msg("HTTP request failed")
		return nil, err
	}

	head, readErr := peekBody(resp, maxLoggedBody)
	event := log.Trace().
		Str("client", t.name).
		Str("method", req.Method).
		Str("url", urlStr).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Int64("content_length", resp.ContentLength)

	if readErr != nil {
		event.Err(readErr)
	}

	switch {
	case len(head) == 0:
	case len(head) < maxLoggedBody && json.Valid(head):
		event.RawJSON("body", head)
	default:
		event.Str("body", string(head))
	}

	event.Msg("HTTP response")

	return resp, nil
}

// peekBody reads up to limit bytes of the body and puts them back in front of the
// rest, so callers still see the full stream
func peekBody(resp *http.Response, limit int64) ([]byte, error) {
	if resp == nil || resp.Body == nil || resp.Body == http.NoBody {
		return nil, nil
	}

	head, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	resp.Body = &joinedBody{
		Reader: io.MultiReader(bytes.NewReader(head), resp.Body),
		closer: resp.Body,
	}
	return head, err
}

type joinedBody struct {
	io.Reader
	closer io.Closer
}

func (b *joinedBody) Close() error {
	return b.closer.Close()
}

// RedactURL returns the URL with credentials in the query string masked
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	copyURL := *u
	copyURL.User = nil
	if copyURL.RawQuery == "" {
		return copyURL.String()
	}

	q := copyURL.Query()
	for key := range q {
		if isSensitiveQueryKey(key) {
			q.Set(key, "redacted")
		}
	}

	copyURL.RawQuery = q.Encode()
	return copyURL.String()
}

func isSensitiveQueryKey(key string) bool {
	switch strings.ToLower(key) {
	case "apikey", "api_key", "api-key", "token", "access_token", "x-emby-token", "x-mediabrowser-token":
		return true
	default:
		return false
	}
}
