package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Embed colours by alert kind.
const (
	colorBid     = 0x2ECC71
	colorPaused  = 0xF1C40F
	colorAlert   = 0xE74C3C
	colorDefault = 0x95A5A6
)

// discordPayload is the subset of the webhook execute body the bot fills in.
type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordSender posts alerts to a Discord webhook as a single embed. Bid
// decisions, auto-pauses and disconnects each get their own colour and the
// "key: value" lines of the message become embed fields.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "rfqbot",
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Send posts title and message as an embed.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(discordPayload{
		Username: d.username,
		Embeds:   []discordEmbed{d.embed(title, message)},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		var rl struct {
			RetryAfter float64 `json:"retry_after"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1024)).Decode(&rl)
		return fmt.Errorf("discord: rate limited (429), retry after %.1fs", rl.RetryAfter)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }

func (d *DiscordSender) embed(title, message string) discordEmbed {
	fields, text := splitFields(message)
	e := discordEmbed{
		Title:       title,
		Description: strings.Join(text, "\n"),
		Color:       embedColor(title),
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}
	for _, f := range fields {
		e.Fields = append(e.Fields, discordField{
			Name:   f[0],
			Value:  f[1],
			Inline: len(f[1]) <= 24,
		})
	}
	return e
}

func embedColor(title string) int {
	switch {
	case strings.HasPrefix(title, TitleAutoBid):
		return colorBid
	case strings.HasPrefix(title, TitleOrderPaused):
		return colorPaused
	case strings.HasPrefix(title, TitleDisconnected):
		return colorAlert
	default:
		return colorDefault
	}
}
