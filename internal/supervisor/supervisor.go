// Package supervisor keeps the analyzer engine running: when the engine
// leaves the running state it is restarted after a delay, up to a ceiling.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// Controllable is the slice of the engine the supervisor drives. Satisfied by
// engine.Engine.
type Controllable interface {
	Start() error
	Stop() error
	State() string
}

// Alarmer receives supervisor alarms.
type Alarmer interface {
	Raise(msg models.AlarmMessage)
}

const origin = "supervisor"

// Supervisor restarts the engine when it stops, until the restart ceiling is
// reached or the context is cancelled.
type Supervisor struct {
	engine  Controllable
	alarmer Alarmer
	logger  *slog.Logger

	maxRestarts  int
	restartDelay time.Duration
	pollInterval time.Duration
}

// New builds a supervisor around the engine.
func New(engine Controllable, alarmer Alarmer, maxRestarts int, restartDelay time.Duration, logger *slog.Logger) *Supervisor {
	if maxRestarts <= 0 {
		maxRestarts = 5
	}
	if restartDelay <= 0 {
		restartDelay = 5 * time.Second
	}
	return &Supervisor{
		engine:       engine,
		alarmer:      alarmer,
		logger:       logger,
		maxRestarts:  maxRestarts,
		restartDelay: restartDelay,
		pollInterval: time.Second,
	}
}

// Run starts the engine and blocks until the context is cancelled or the
// restart ceiling is exhausted. On cancellation a running engine is stopped
// cleanly. The returned error is non-nil only when the ceiling was hit.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.engine.Start(); err != nil {
		return fmt.Errorf("initial engine start: %w", err)
	}

	restarts := 0
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.engine.State() == "running" {
				if err := s.engine.Stop(); err != nil {
					s.logger.Error("engine stop on shutdown failed", "error", err)
				}
			}
			return nil
		case <-ticker.C:
		}

		if s.engine.State() != "stopped" {
			continue
		}

		if restarts >= s.maxRestarts {
			s.alarmer.Raise(models.NewAlarm(models.AlarmHigh, origin,
				fmt.Sprintf("engine stopped and restart ceiling of %d reached, giving up", s.maxRestarts)))
			s.logger.Error("restart ceiling reached", "restarts", restarts)
			return fmt.Errorf("engine restart ceiling of %d reached", s.maxRestarts)
		}

		restarts++
		s.logger.Warn("engine stopped, restarting", "attempt", restarts, "max", s.maxRestarts)
		s.alarmer.Raise(models.NewAlarm(models.AlarmMedium, origin,
			fmt.Sprintf("engine stopped unexpectedly, restarting (%d/%d)", restarts, s.maxRestarts)))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.restartDelay):
		}

		if err := s.engine.Start(); err != nil {
			s.logger.Error("engine restart failed", "attempt", restarts, "error", err)
		}
	}
}
