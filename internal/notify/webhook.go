// Package notify announces analytics events to Discord and Telegram.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/tos-network/kale-analytics/internal/events"
	"github.com/tos-network/kale-analytics/internal/util"
)

// DefaultTelegramURL is the Telegram Bot API base
const DefaultTelegramURL = "https://api.telegram.org"

// WebhookConfig holds webhook configuration
type WebhookConfig struct {
	DiscordURL   string
	TelegramURL  string
	TelegramBot  string
	TelegramChat string
	Enabled      bool
	ServiceName  string
	ServiceURL   string
	Workers      int
	QueueSize    int
	NotifyFailed bool
}

// Retry configuration
const (
	MaxRetries     = 3
	RetryBaseDelay = 2 * time.Second
	RateLimitDelay = 5 * time.Second
)

// Embed colors
const (
	colorSuccess  = 0x00FF00
	colorFailure  = 0xFF0000
	colorInit     = 0x0099FF
	colorEmission = 0xFFA500
)

// Notifier delivers events to webhooks from a bounded worker pool
type Notifier struct {
	cfg    *WebhookConfig
	client *http.Client
	pool   pond.Pool

	retryDelay     time.Duration
	rateLimitDelay time.Duration
}

// NewNotifier creates a new notifier
func NewNotifier(cfg *WebhookConfig) *Notifier {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 256
	}
	if cfg.TelegramURL == "" {
		cfg.TelegramURL = DefaultTelegramURL
	}

	return &Notifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		pool:           pond.NewPool(workers, pond.WithQueueSize(queue), pond.WithNonBlocking(true)),
		retryDelay:     RetryBaseDelay,
		rateLimitDelay: RateLimitDelay,
	}
}

// Publish formats ev and queues one delivery per configured channel.
// A full queue drops the notification.
func (n *Notifier) Publish(ctx context.Context, ev events.Event) {
	if !n.cfg.Enabled {
		return
	}

	embed, text, ok := n.render(ev)
	if !ok {
		return
	}

	if n.cfg.DiscordURL != "" {
		msg := DiscordMessage{Embeds: []DiscordEmbed{embed}}
		n.submit(func() { n.sendDiscordMessageWithRetry(msg) })
	}

	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		n.submit(func() { n.sendTelegramMessageWithRetry(text) })
	}
}

func (n *Notifier) submit(task func()) {
	if err := n.pool.Go(task); err != nil {
		util.Warnf("Dropping notification: %v", err)
	}
}

// Stop waits for queued notifications to finish
func (n *Notifier) Stop() {
	n.pool.StopAndWait()
}

// render builds the Discord embed and Telegram text for an event
func (n *Notifier) render(ev events.Event) (DiscordEmbed, string, bool) {
	var (
		embed DiscordEmbed
		text  string
	)

	switch p := ev.Payload.(type) {
	case events.SessionPayload:
		if !p.Success && !n.cfg.NotifyFailed {
			return embed, "", false
		}
		if p.Success {
			embed = DiscordEmbed{
				Title:       "Harvest Recorded",
				Description: fmt.Sprintf("**%s** recorded a successful farm", n.cfg.ServiceName),
				Color:       colorSuccess,
				Fields: []DiscordField{
					{Name: "Farmer", Value: util.TruncateAddress(p.Farmer), Inline: true},
					{Name: "Reward", Value: p.Reward.Decimal() + " KALE", Inline: true},
				},
			}
			text = fmt.Sprintf(
				"*Harvest Recorded*\n\n"+
					"Farmer: `%s`\n"+
					"Reward: `%s KALE`",
				util.TruncateAddress(p.Farmer), p.Reward.Decimal(),
			)
		} else {
			embed = DiscordEmbed{
				Title:       "Farming Failed",
				Description: fmt.Sprintf("**%s** recorded a failed farm", n.cfg.ServiceName),
				Color:       colorFailure,
				Fields: []DiscordField{
					{Name: "Farmer", Value: util.TruncateAddress(p.Farmer), Inline: true},
				},
			}
			text = fmt.Sprintf("*Farming Failed*\n\nFarmer: `%s`", util.TruncateAddress(p.Farmer))
		}

	case events.InitPayload:
		embed = DiscordEmbed{
			Title:       "Analytics Initialized",
			Description: fmt.Sprintf("**%s** network state created", n.cfg.ServiceName),
			Color:       colorInit,
			Fields: []DiscordField{
				{Name: "Admin", Value: util.TruncateAddress(p.Admin), Inline: true},
				{Name: "Emission Rate", Value: fmt.Sprintf("%d", p.EmissionRate), Inline: true},
				{Name: "Difficulty", Value: fmt.Sprintf("%d", p.Difficulty), Inline: true},
			},
		}
		text = fmt.Sprintf(
			"*Analytics Initialized*\n\n"+
				"Admin: `%s`\n"+
				"Emission Rate: `%d`\n"+
				"Difficulty: `%d`",
			util.TruncateAddress(p.Admin), p.EmissionRate, p.Difficulty,
		)

	case events.EmissionPayload:
		embed = DiscordEmbed{
			Title:       "Emission Rate Updated",
			Description: fmt.Sprintf("**%s** emission rate changed", n.cfg.ServiceName),
			Color:       colorEmission,
			Fields: []DiscordField{
				{Name: "Rate", Value: fmt.Sprintf("%d", p.Rate), Inline: true},
				{Name: "Admin", Value: util.TruncateAddress(p.Admin), Inline: true},
			},
		}
		text = fmt.Sprintf(
			"*Emission Rate Updated*\n\n"+
				"Rate: `%d`\n"+
				"Admin: `%s`",
			p.Rate, util.TruncateAddress(p.Admin),
		)

	default:
		return embed, "", false
	}

	embed.Timestamp = time.Unix(int64(ev.Timestamp), 0).UTC().Format(time.RFC3339)
	embed.Footer = &DiscordFooter{Text: n.cfg.ServiceName}
	if n.cfg.ServiceURL != "" {
		embed.URL = n.cfg.ServiceURL
	}
	return embed, text, true
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []DiscordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
}

// DiscordField represents a field in a Discord embed
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordFooter represents the footer of a Discord embed
type DiscordFooter struct {
	Text string `json:"text"`
}

// DiscordMessage represents a Discord webhook message
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// TelegramMessage represents a Telegram bot message
type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// sendDiscordMessageWithRetry sends a message to Discord with exponential backoff retry
func (n *Notifier) sendDiscordMessageWithRetry(msg DiscordMessage) {
	if err := n.postWithRetry(n.cfg.DiscordURL, msg); err != nil {
		util.Warnf("Failed to send Discord notification after %d retries: %v", MaxRetries, err)
	}
}

// sendTelegramMessageWithRetry sends a message via Telegram with exponential backoff retry
func (n *Notifier) sendTelegramMessageWithRetry(text string) {
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(n.cfg.TelegramURL, "/"), n.cfg.TelegramBot)

	msg := TelegramMessage{
		ChatID:    n.cfg.TelegramChat,
		Text:      text,
		ParseMode: "Markdown",
	}

	if err := n.postWithRetry(url, msg); err != nil {
		util.Warnf("Failed to send Telegram notification after %d retries: %v", MaxRetries, err)
	}
}

func (n *Notifier) postWithRetry(url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 2s, 4s
			time.Sleep(n.retryDelay * time.Duration(1<<uint(attempt-1)))
		}

		resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 400 {
			return nil
		}

		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			time.Sleep(n.rateLimitDelay)
		}
	}
	return lastErr
}
