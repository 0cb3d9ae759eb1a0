package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/healthstack/healthwatch/internal/eventstore"
	"github.com/healthstack/healthwatch/internal/ingest"
	"github.com/healthstack/healthwatch/internal/models"
	"github.com/healthstack/healthwatch/internal/rules"
	"github.com/healthstack/healthwatch/internal/storage"
)

// EngineControl is the slice of the engine the API needs. Satisfied by
// engine.Engine.
type EngineControl interface {
	Start() error
	Stop() error
	State() string
	QueueDepth() int
	Statuses() []models.AnalyzerStatus
	TenantRules(tenant string) ([]string, bool)
	ReloadTenant(ctx context.Context, tenant string) error
	Diagnostics() []models.TimestampedMessage
}

// Acceptor takes validated events in. Satisfied by ingest.Receiver.
type Acceptor interface {
	Accept(ev *models.Event) error
}

// Handler exposes the operational surface: event intake, engine control, rule
// management, and the live alarm stream.
type Handler struct {
	engine EngineControl
	intake Acceptor
	store  storage.RuleStore
	events eventstore.Store
	hub    *AlarmHub
	logger *slog.Logger
}

// NewHandler wires the HTTP handlers. store may also implement
// storage.RuleWriter; if it does not, rule mutations are rejected.
func NewHandler(engine EngineControl, intake Acceptor, store storage.RuleStore, events eventstore.Store, hub *AlarmHub, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		intake: intake,
		store:  store,
		events: events,
		hub:    hub,
		logger: logger,
	}
}

// Routes builds the request mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("POST /api/v1/events", h.handlePostEvents)
	mux.HandleFunc("GET /api/v1/events/{tenant}", h.handleRecentEvents)
	mux.HandleFunc("GET /api/v1/status", h.handleStatus)
	mux.HandleFunc("GET /api/v1/analyzers/{tenant}/rules", h.handleAnalyzerRules)
	mux.HandleFunc("POST /api/v1/analyzers/{tenant}/reload", h.handleReload)
	mux.HandleFunc("POST /api/v1/engine/start", h.handleEngineStart)
	mux.HandleFunc("POST /api/v1/engine/stop", h.handleEngineStop)
	mux.HandleFunc("GET /api/v1/rules", h.handleListRules)
	mux.HandleFunc("POST /api/v1/rules", h.handleSaveRule)
	mux.HandleFunc("DELETE /api/v1/rules/{id}", h.handleDeleteRule)
	mux.HandleFunc("GET /ws/alarms", h.hub.handleSubscribe)
	return mux
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": h.engine.State()})
}

type eventRejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type ingestResponse struct {
	Accepted int              `json:"accepted"`
	IDs      []string         `json:"ids"`
	Rejected []eventRejection `json:"rejected"`
}

// handlePostEvents ingests a batch. Each event is accepted independently:
// invalid entries are reported per index while the rest of the batch goes
// through. An engine that is not running fails the whole request.
func (h *Handler) handlePostEvents(w http.ResponseWriter, r *http.Request) {
	var batch []*models.Event
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body, expected an array of events")
		return
	}
	if len(batch) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}

	out := ingestResponse{IDs: []string{}, Rejected: []eventRejection{}}
	for i, ev := range batch {
		if err := h.intake.Accept(ev); err != nil {
			if errors.Is(err, ingest.ErrInvalidEvent) {
				out.Rejected = append(out.Rejected, eventRejection{Index: i, Error: err.Error()})
				continue
			}
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		out.IDs = append(out.IDs, ev.ID)
	}
	out.Accepted = len(out.IDs)
	writeJSON(w, http.StatusAccepted, out)
}

func (h *Handler) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := h.events.Recent(r.Context(), tenant, limit)
	if err != nil {
		h.logger.Error("event archive read failed", "tenant", tenant, "error", err)
		writeError(w, http.StatusInternalServerError, "event archive unavailable")
		return
	}
	if events == nil {
		events = []*models.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": tenant, "events": events})
}

type statusResponse struct {
	EngineState string                      `json:"engine_state"`
	QueueDepth  int                         `json:"queue_depth"`
	Analyzers   []models.AnalyzerStatus     `json:"analyzers"`
	Diagnostics []models.TimestampedMessage `json:"diagnostics"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		EngineState: h.engine.State(),
		QueueDepth:  h.engine.QueueDepth(),
		Analyzers:   h.engine.Statuses(),
		Diagnostics: h.engine.Diagnostics(),
	})
}

func (h *Handler) handleAnalyzerRules(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	names, ok := h.engine.TenantRules(tenant)
	if !ok {
		writeError(w, http.StatusNotFound, "no analyzer for tenant "+tenant)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": tenant, "rules": names})
}

// handleReload answers before the reload finishes: the drain wait can run for
// tens of seconds and callers should not hold a connection open for it.
func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	if _, ok := h.engine.TenantRules(tenant); !ok {
		writeError(w, http.StatusNotFound, "no analyzer for tenant "+tenant)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := h.engine.ReloadTenant(ctx, tenant); err != nil {
			h.logger.Error("rule reload failed", "tenant", tenant, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"tenant": tenant, "status": "reloading"})
}

func (h *Handler) handleEngineStart(w http.ResponseWriter, _ *http.Request) {
	if err := h.engine.Start(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"engine_state": h.engine.State()})
}

func (h *Handler) handleEngineStop(w http.ResponseWriter, _ *http.Request) {
	if err := h.engine.Stop(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"engine_state": h.engine.State()})
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	var (
		defs []rules.Definition
		err  error
	)
	if tenant := r.URL.Query().Get("tenant"); tenant != "" {
		defs, err = h.store.DefinitionsForTenant(r.Context(), tenant)
	} else {
		defs, err = h.store.Definitions(r.Context())
	}
	if err != nil {
		h.logger.Error("rule listing failed", "error", err)
		writeError(w, http.StatusBadGateway, "rule store unavailable")
		return
	}
	if defs == nil {
		defs = []rules.Definition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": defs})
}

func (h *Handler) handleSaveRule(w http.ResponseWriter, r *http.Request) {
	writer, ok := h.store.(storage.RuleWriter)
	if !ok {
		writeError(w, http.StatusForbidden, "rule store is read-only")
		return
	}
	var def rules.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	saved, err := writer.SaveDefinition(r.Context(), def)
	if err != nil {
		if errors.Is(err, storage.ErrReadOnly) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	writer, ok := h.store.(storage.RuleWriter)
	if !ok {
		writeError(w, http.StatusForbidden, "rule store is read-only")
		return
	}
	tenant := r.URL.Query().Get("tenant")
	if err := writer.DeleteDefinition(r.Context(), tenant, r.PathValue("id")); err != nil {
		if errors.Is(err, storage.ErrReadOnly) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
