package alarm

import (
	"context"
	"log/slog"

	"github.com/healthstack/healthwatch/internal/models"
)

// LogChannel writes alarms to the structured log. Always registered so alarms
// are visible even when no external channel is configured.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel builds the channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

// Send logs the alarm at a level matching its severity.
func (c *LogChannel) Send(_ context.Context, msg models.AlarmMessage) error {
	attrs := []any{
		"origin", msg.Origin,
		"message", msg.Message,
	}
	if msg.ExceptionText != "" {
		attrs = append(attrs, "exception", msg.ExceptionText)
	}
	c.log(msg.Level, "alarm", attrs)
	return nil
}

// SendAggregated logs the summary with its repeat count and time span.
func (c *LogChannel) SendAggregated(_ context.Context, agg Aggregate) error {
	attrs := []any{
		"origin", agg.Alarm.Origin,
		"message", agg.Alarm.Message,
		"count", agg.Count,
		"first_seen", agg.FirstSeen,
		"last_seen", agg.LastSeen,
	}
	c.log(agg.Alarm.Level, "aggregated alarm", attrs)
	return nil
}

func (c *LogChannel) log(level models.AlarmLevel, msg string, attrs []any) {
	switch level {
	case models.AlarmHigh:
		c.logger.Error(msg, attrs...)
	case models.AlarmMedium:
		c.logger.Warn(msg, attrs...)
	default:
		c.logger.Info(msg, attrs...)
	}
}
