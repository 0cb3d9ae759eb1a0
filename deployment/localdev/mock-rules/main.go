package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

type ruleDefinition struct {
	ID             string `json:"id,omitempty"`
	Tenant         string `json:"tenant"`
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	Level          string `json:"level"`
	Operation      string `json:"operation,omitempty"`
	Window         string `json:"window"`
	MaxFailures    int    `json:"max_failures,omitempty"`
	MaxPercentage  int    `json:"max_percentage,omitempty"`
	MinOperations  int    `json:"min_operations,omitempty"`
	StartOperation string `json:"start_operation,omitempty"`
	EndOperation   string `json:"end_operation,omitempty"`
}

type ruleStore struct {
	mu    sync.Mutex
	seq   int
	rules map[string]ruleDefinition
}

func newRuleStore() *ruleStore {
	s := &ruleStore{rules: map[string]ruleDefinition{}}
	seed := []ruleDefinition{
		{Tenant: "tenant-a", Name: "too-many-failures", Kind: "max_failure_count", Level: "high", Window: "9s", MaxFailures: 4},
		{Tenant: "tenant-a", Name: "failure-rate", Kind: "failure_percentage", Level: "medium", Window: "1m", MaxPercentage: 50, MinOperations: 4},
		{Tenant: "tenant-b", Name: "backup-overdue", Kind: "time_between", Level: "high", Window: "1h", StartOperation: "backup-start", EndOperation: "backup-end"},
	}
	for _, def := range seed {
		s.save(def)
	}
	return s
}

func (s *ruleStore) save(def ruleDefinition) ruleDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if def.ID == "" {
		s.seq++
		def.ID = fmt.Sprintf("rule-%d", s.seq)
	}
	s.rules[def.ID] = def
	return def
}

func (s *ruleStore) list(tenant string) []ruleDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ruleDefinition, 0, len(s.rules))
	for _, def := range s.rules {
		if tenant == "" || def.Tenant == tenant {
			out = append(out, def)
		}
	}
	return out
}

func (s *ruleStore) delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return false
	}
	delete(s.rules, id)
	return true
}

func main() {
	store := newRuleStore()
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/rules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, map[string]any{"rules": store.list(r.URL.Query().Get("tenant"))})
		case http.MethodPost:
			var def ruleDefinition
			if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			writeJSON(w, store.save(def))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/rules/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/rules/")
		if !store.delete(id) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	logger := log.New(log.Writer(), "rules-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
