// Package snapshot periodically writes a JSON status file so operators and
// dashboards can read engine health without hitting the API.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// StatusSource provides the engine view captured in each snapshot. Satisfied
// by engine.Engine.
type StatusSource interface {
	State() string
	QueueDepth() int
	Statuses() []models.AnalyzerStatus
}

// Snapshot is the file format.
type Snapshot struct {
	GeneratedAt time.Time               `json:"generated_at"`
	EngineState string                  `json:"engine_state"`
	QueueDepth  int                     `json:"queue_depth"`
	Analyzers   []models.AnalyzerStatus `json:"analyzers"`
}

// Generator writes snapshots on a fixed interval.
type Generator struct {
	source   StatusSource
	path     string
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewGenerator builds a generator targeting path.
func NewGenerator(source StatusSource, path string, interval time.Duration, logger *slog.Logger) *Generator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Generator{
		source:   source,
		path:     path,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run writes a snapshot immediately and then on every tick until the context
// is cancelled. Write failures are logged, not fatal.
func (g *Generator) Run(ctx context.Context) {
	if err := g.WriteOnce(); err != nil {
		g.logger.Warn("status snapshot failed", "error", err)
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.WriteOnce(); err != nil {
				g.logger.Warn("status snapshot failed", "error", err)
			}
		}
	}
}

// WriteOnce captures the current status and writes it atomically via a
// temporary file in the target directory.
func (g *Generator) WriteOnce() error {
	snap := Snapshot{
		GeneratedAt: g.now().UTC(),
		EngineState: g.source.State(),
		QueueDepth:  g.source.QueueDepth(),
		Analyzers:   g.source.Statuses(),
	}
	if snap.Analyzers == nil {
		snap.Analyzers = []models.AnalyzerStatus{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(g.path)
	tmp, err := os.CreateTemp(dir, ".status-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), g.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
