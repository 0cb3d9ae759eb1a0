package alarm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/healthstack/healthwatch/internal/models"
)

// Channel delivers alarm messages to one destination. Aggregated alarms go
// through their own method so a channel can render the repeat count and time
// span instead of the raw message.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg models.AlarmMessage) error
	SendAggregated(ctx context.Context, agg Aggregate) error
}

func levelRank(level models.AlarmLevel) int {
	switch level {
	case models.AlarmHigh:
		return 3
	case models.AlarmMedium:
		return 2
	case models.AlarmLow:
		return 1
	}
	return 0
}

type registration struct {
	channel  Channel
	minLevel models.AlarmLevel
}

// ChannelHolder fans one alarm out to every registered channel whose minimum
// level admits it. A failing channel is logged and skipped; the remaining
// channels still receive the message.
type ChannelHolder struct {
	mu       sync.RWMutex
	channels []registration
	logger   *slog.Logger
}

// NewChannelHolder builds an empty holder.
func NewChannelHolder(logger *slog.Logger) *ChannelHolder {
	return &ChannelHolder{logger: logger}
}

// Register adds a channel that receives alarms at minLevel and above.
func (h *ChannelHolder) Register(ch Channel, minLevel models.AlarmLevel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels = append(h.channels, registration{channel: ch, minLevel: minLevel})
}

// Broadcast delivers the message to all eligible channels.
func (h *ChannelHolder) Broadcast(ctx context.Context, msg models.AlarmMessage) {
	h.mu.RLock()
	regs := make([]registration, len(h.channels))
	copy(regs, h.channels)
	h.mu.RUnlock()

	for _, reg := range regs {
		if levelRank(msg.Level) < levelRank(reg.minLevel) {
			continue
		}
		if err := reg.channel.Send(ctx, msg); err != nil {
			h.logger.Error("alarm channel delivery failed",
				"channel", reg.channel.Name(),
				"origin", msg.Origin,
				"error", err)
		}
	}
}

// BroadcastAggregated delivers the aggregate to all eligible channels.
func (h *ChannelHolder) BroadcastAggregated(ctx context.Context, agg Aggregate) {
	h.mu.RLock()
	regs := make([]registration, len(h.channels))
	copy(regs, h.channels)
	h.mu.RUnlock()

	for _, reg := range regs {
		if levelRank(agg.Alarm.Level) < levelRank(reg.minLevel) {
			continue
		}
		if err := reg.channel.SendAggregated(ctx, agg); err != nil {
			h.logger.Error("aggregated alarm delivery failed",
				"channel", reg.channel.Name(),
				"origin", agg.Alarm.Origin,
				"error", err)
		}
	}
}

// Len reports how many channels are registered.
func (h *ChannelHolder) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}
