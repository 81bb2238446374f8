package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/saltyorg/subextract/internal/httpclient"
)

// DefaultWebhookBody is the body template used when none is configured
const DefaultWebhookBody = `{
  "event": {{json .Type}},
  "title": {{json .Title}},
  "message": {{json .Message}},
  "timestamp": {{json .Timestamp}},
  "fields": {{json .Fields}}
}`

// WebhookConfig holds generic webhook configuration
type WebhookConfig struct {
	URL         string
	Method      string            // HTTP method (POST, PUT, etc.)
	Body        string            // Template for request body
	Headers     map[string]string // Custom headers
	ContentType string
}

// WebhookProvider sends notifications via generic HTTP webhooks
type WebhookProvider struct {
	config WebhookConfig
	body   *template.Template
	client *http.Client
}

// webhookTemplateData holds the data available for template rendering
type webhookTemplateData struct {
	Type      string
	Title     string
	Message   string
	Timestamp string
	Fields    map[string]string
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)
		return string(data), err
	},
}

// NewWebhookProvider creates a generic webhook provider, parsing the body template
func NewWebhookProvider(config WebhookConfig) (*WebhookProvider, error) {
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	config.Method = strings.ToUpper(config.Method)
	if config.ContentType == "" {
		config.ContentType = "application/json"
	}

	body, err := ParseWebhookBody(config.Body)
	if err != nil {
		return nil, err
	}

	return &WebhookProvider{
		config: config,
		body:   body,
		client: httpclient.NewTraceClient("webhook", 30*time.Second),
	}, nil
}

// ParseWebhookBody parses a body template; an empty body selects DefaultWebhookBody
func ParseWebhookBody(body string) (*template.Template, error) {
	if body == "" {
		body = DefaultWebhookBody
	}
	tmpl, err := template.New("webhook").Funcs(templateFuncs).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook body template: %w", err)
	}
	return tmpl, nil
}

// Name returns the provider name
func (w *WebhookProvider) Name() string {
	return "webhook"
}

// Send renders the body template and sends it
func (w *WebhookProvider) Send(ctx context.Context, event Event) error {
	fields := event.Fields
	if fields == nil {
		fields = map[string]string{}
	}

	var buf bytes.Buffer
	if err := w.body.Execute(&buf, webhookTemplateData{
		Type:      string(event.Type),
		Title:     event.Title,
		Message:   event.Message,
		Timestamp: event.Timestamp.Format(time.RFC3339),
		Fields:    fields,
	}); err != nil {
		return fmt.Errorf("failed to render body template: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.config.Method, w.config.URL, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.config.ContentType)
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	return deliver(w.client, req)
}

// deliver sends req and turns a non-2xx response into an error with a short body excerpt
func deliver(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if excerpt := strings.TrimSpace(string(body)); excerpt != "" {
		return fmt.Errorf("%s returned status %d: %s", req.URL.Host, resp.StatusCode, excerpt)
	}
	return fmt.Errorf("%s returned status %d", req.URL.Host, resp.StatusCode)
}
