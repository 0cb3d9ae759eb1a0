// Package ingest validates incoming events before they reach the engine.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/healthstack/healthwatch/internal/metrics"
	"github.com/healthstack/healthwatch/internal/models"
)

// Submitter accepts validated events. Satisfied by engine.Engine.
type Submitter interface {
	Submit(ev *models.Event) error
}

// ErrInvalidEvent wraps all validation failures.
var ErrInvalidEvent = errors.New("invalid event")

// Receiver normalizes and validates events, then hands them to the engine.
type Receiver struct {
	engine Submitter
	logger *slog.Logger
}

// NewReceiver builds a receiver in front of the given submitter.
func NewReceiver(engine Submitter, logger *slog.Logger) *Receiver {
	return &Receiver{engine: engine, logger: logger}
}

// Accept validates the event, fills missing identity fields, and submits it.
// The event is mutated in place.
func (r *Receiver) Accept(ev *models.Event) error {
	if err := normalize(ev); err != nil {
		return err
	}
	if err := r.engine.Submit(ev); err != nil {
		return err
	}
	metrics.EventIngested()
	r.logger.Debug("event accepted",
		"event_id", ev.ID,
		"tenant", ev.Tenant,
		"operation", ev.OperationName,
		"result", ev.Result)
	return nil
}

func normalize(ev *models.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: event is nil", ErrInvalidEvent)
	}
	if ev.Tenant == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidEvent)
	}
	switch ev.Result {
	case models.ResultNeutral, models.ResultSuccess, models.ResultFailure:
	case "":
		ev.Result = models.ResultNeutral
	default:
		return fmt.Errorf("%w: unknown result %q", ErrInvalidEvent, ev.Result)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return nil
}
