package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// SlackChannel posts alarms to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	channel    string
	httpClient *http.Client
}

// NewSlackChannel builds the channel. timeout bounds each webhook call.
func NewSlackChannel(webhookURL, channel string, timeout time.Duration) (*SlackChannel, error) {
	if webhookURL == "" {
		return nil, errors.New("slack webhook URL is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

type slackPayload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Send posts the formatted alarm text to the webhook.
func (c *SlackChannel) Send(ctx context.Context, msg models.AlarmMessage) error {
	return c.post(ctx, formatSlackText(msg))
}

// SendAggregated posts a summary line carrying the repeat count and the span
// the repeats covered.
func (c *SlackChannel) SendAggregated(ctx context.Context, agg Aggregate) error {
	return c.post(ctx, formatSlackAggregate(agg))
}

func (c *SlackChannel) post(ctx context.Context, text string) error {
	payload := slackPayload{
		Channel: c.channel,
		Text:    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func formatSlackText(msg models.AlarmMessage) string {
	icon := ":information_source:"
	switch msg.Level {
	case models.AlarmHigh:
		icon = ":rotating_light:"
	case models.AlarmMedium:
		icon = ":warning:"
	}
	text := fmt.Sprintf("%s *[%s]* %s: %s", icon, msg.Level, msg.Origin, msg.Message)
	if msg.ExceptionText != "" {
		text += fmt.Sprintf("\n```%s```", msg.ExceptionText)
	}
	return text
}

func formatSlackAggregate(agg Aggregate) string {
	if agg.Count == 1 {
		return formatSlackText(agg.Alarm)
	}
	return fmt.Sprintf("%s\nrepeated %d times between %s and %s",
		formatSlackText(agg.Alarm),
		agg.Count,
		agg.FirstSeen.UTC().Format(time.RFC3339),
		agg.LastSeen.UTC().Format(time.RFC3339))
}
