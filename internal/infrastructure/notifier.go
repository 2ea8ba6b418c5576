package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"metaetl/internal/domain"
	"metaetl/pkg/logger"
	"metaetl/pkg/metrics"
)

type embedStyle struct {
	emoji string
	color int
}

var embedStyles = map[domain.Severity]embedStyle{
	domain.SeverityInfo:    {emoji: "✅", color: 3066993},
	domain.SeverityWarning: {emoji: "⚠️", color: 16776960},
	domain.SeverityError:   {emoji: "🚨", color: 15158332},
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
}

// DiscordNotifier posts operator messages to a Discord webhook as embeds.
type DiscordNotifier struct {
	client     *http.Client
	webhookURL string
	username   string
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewDiscordNotifier(webhookURL, username string, timeout time.Duration, logger *logger.Logger, metrics *metrics.Metrics) *DiscordNotifier {
	return &DiscordNotifier{
		client:     &http.Client{Timeout: timeout},
		webhookURL: webhookURL,
		username:   username,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Notify sends the message. Delivery failures are logged and never returned.
func (n *DiscordNotifier) Notify(ctx context.Context, severity domain.Severity, message string) {
	style, ok := embedStyles[severity]
	if !ok {
		severity = domain.SeverityInfo
		style = embedStyles[severity]
	}

	embed := discordEmbed{
		Title:       fmt.Sprintf("%s ETL Notification - %s", style.emoji, strings.ToUpper(string(severity))),
		Description: message,
		Color:       style.color,
	}
	embed.Footer.Text = "Horário: " + n.now().Format("2006-01-02 15:04:05")

	log := n.logger.WithContext(ctx).WithField("severity", severity)
	if err := n.post(ctx, discordPayload{Username: n.username, Embeds: []discordEmbed{embed}}); err != nil {
		n.metrics.RecordNotification(string(severity), "failed")
		log.WithError(err).Error("Failed to send Discord notification")
		return
	}

	n.metrics.RecordNotification(string(severity), "sent")
	log.Debug("Discord notification sent")
}

func (n *DiscordNotifier) post(ctx context.Context, payload discordPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes operator messages to the log only. Used when no webhook
// is configured.
type LogNotifier struct {
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewLogNotifier(logger *logger.Logger, metrics *metrics.Metrics) *LogNotifier {
	return &LogNotifier{logger: logger, metrics: metrics}
}

func (n *LogNotifier) Notify(ctx context.Context, severity domain.Severity, message string) {
	entry := n.logger.WithContext(ctx).WithField("severity", severity)
	switch severity {
	case domain.SeverityError:
		entry.Error(message)
	case domain.SeverityWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
	n.metrics.RecordNotification(string(severity), "logged")
}
