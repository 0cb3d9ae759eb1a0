// Package eventstore keeps a rolling archive of recent events per tenant so
// operators can inspect what the analyzers saw around an alarm. Archiving is
// best effort and never blocks event processing.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/healthstack/healthwatch/internal/cache"
	"github.com/healthstack/healthwatch/internal/models"
)

// Store archives processed events and serves them back for inspection.
type Store interface {
	Archive(ctx context.Context, ev *models.Event) error
	Recent(ctx context.Context, tenant string, limit int) ([]*models.Event, error)
}

// ValkeyStore archives events into per-tenant Valkey lists.
type ValkeyStore struct {
	provider cache.Provider
	logger   *slog.Logger
	timeout  time.Duration
}

// NewValkeyStore wraps the cache provider as an event archive.
func NewValkeyStore(provider cache.Provider, logger *slog.Logger) *ValkeyStore {
	return &ValkeyStore{
		provider: provider,
		logger:   logger,
		timeout:  2 * time.Second,
	}
}

func tenantKey(tenant string) string {
	return fmt.Sprintf("healthwatch:events:%s", tenant)
}

// Archive serializes the event and prepends it to the tenant's list. Failures
// are logged and swallowed so a cache outage never stalls analysis.
func (s *ValkeyStore) Archive(ctx context.Context, ev *models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.provider.LPush(ctx, tenantKey(ev.Tenant), payload); err != nil {
		s.logger.Warn("event archive write failed",
			"tenant", ev.Tenant,
			"event_id", ev.ID,
			"error", err)
	}
	return nil
}

// Recent returns up to limit of the newest archived events for the tenant.
func (s *ValkeyStore) Recent(ctx context.Context, tenant string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.provider.LRange(ctx, tenantKey(tenant), 0, int64(limit-1))
	if err != nil {
		return nil, fmt.Errorf("read event archive for %s: %w", tenant, err)
	}

	events := make([]*models.Event, 0, len(raw))
	for _, item := range raw {
		var ev models.Event
		if err := json.Unmarshal(item, &ev); err != nil {
			s.logger.Warn("skipping corrupt archived event", "tenant", tenant, "error", err)
			continue
		}
		events = append(events, &ev)
	}
	return events, nil
}

// NoopStore satisfies Store without persisting anything.
type NoopStore struct{}

// Archive discards the event.
func (NoopStore) Archive(context.Context, *models.Event) error { return nil }

// Recent always returns an empty slice.
func (NoopStore) Recent(context.Context, string, int) ([]*models.Event, error) {
	return nil, nil
}
