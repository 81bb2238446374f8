package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/saltyorg/subextract/internal/httpclient"
)

const defaultUsername = "subextract"

// DiscordConfig holds Discord webhook configuration
type DiscordConfig struct {
	WebhookURL string
	Username   string // Bot username (optional)
	AvatarURL  string // Bot avatar URL (optional)
}

// DiscordProvider sends notifications via Discord webhooks
type DiscordProvider struct {
	config DiscordConfig
	client *http.Client
}

// NewDiscordProvider creates a new Discord notification provider
func NewDiscordProvider(config DiscordConfig) *DiscordProvider {
	if config.Username == "" {
		config.Username = defaultUsername
	}
	return &DiscordProvider{
		config: config,
		client: httpclient.NewTraceClient("discord", 30*time.Second),
	}
}

// Name returns the provider name
func (d *DiscordProvider) Name() string {
	return "discord"
}

// Send posts the event as a single embed
func (d *DiscordProvider) Send(ctx context.Context, event Event) error {
	data, err := json.Marshal(discordWebhookPayload{
		Username:  d.config.Username,
		AvatarURL: d.config.AvatarURL,
		Embeds:    []discordEmbed{d.buildEmbed(event)},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return deliver(d.client, req)
}

// buildEmbed creates a Discord embed from an event. Fields are sorted by name.
func (d *DiscordProvider) buildEmbed(event Event) discordEmbed {
	embed := discordEmbed{
		Title:       event.Title,
		Description: event.Message,
		Color:       colorForEvent(event.Type),
		Timestamp:   event.Timestamp.Format(time.RFC3339),
		Footer:      &discordEmbedFooter{Text: defaultUsername},
	}

	names := make([]string, 0, len(event.Fields))
	for name := range event.Fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:   name,
			Value:  event.Fields[name],
			Inline: true,
		})
	}

	return embed
}

func colorForEvent(eventType EventType) int {
	switch eventType {
	case EventTaskCompleted:
		return 0x00FF00 // Green
	case EventTaskFailed:
		return 0xFF0000 // Red
	case EventTaskCancelled:
		return 0xFFFF00 // Yellow
	default:
		return 0x808080 // Gray
	}
}

type discordWebhookPayload struct {
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Content   string         `json:"content,omitempty"`
	Embeds    []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}
