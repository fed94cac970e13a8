// Package api implements an admin REST + HTML dashboard over Registry: list
// open databases, per-connection/per-queue stats, health, and a Prometheus
// /metrics endpoint — the supervisory surface a deployment runs alongside
// the embedded core.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quicksqlite/corepool/internal/config"
	"github.com/quicksqlite/corepool/internal/health"
	"github.com/quicksqlite/corepool/internal/metrics"
	"github.com/quicksqlite/corepool/internal/ops"
	"github.com/quicksqlite/corepool/internal/pool"
)

// Server is the admin REST API and metrics server.
type Server struct {
	coordinator *ops.Coordinator
	healthCheck *health.Checker
	metrics     *metrics.Collector
	httpServer  *http.Server
	startTime   time.Time
	listenCfg   config.ListenConfig
}

// NewServer creates a new API server.
func NewServer(c *ops.Coordinator, hc *health.Checker, m *metrics.Collector, lc config.ListenConfig) *Server {
	return &Server{
		coordinator: c,
		healthCheck: hc,
		metrics:     m,
		startTime:   time.Now(),
		listenCfg:   lc,
	}
}

// Start starts the HTTP API server.
func (s *Server) Start(port int) error {
	r := mux.NewRouter()

	// Database lifecycle
	r.HandleFunc("/databases", s.listDatabases).Methods("GET")
	r.HandleFunc("/databases", s.openDatabase).Methods("POST")
	r.HandleFunc("/databases/{name}", s.getDatabase).Methods("GET")
	r.HandleFunc("/databases/{name}", s.closeDatabase).Methods("DELETE")
	r.HandleFunc("/databases/{name}/stats", s.databaseStats).Methods("GET")

	// Server status
	r.HandleFunc("/status", s.statusHandler).Methods("GET")

	// Health & readiness
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	// Prometheus metrics
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	// Admin dashboard, served at exactly "/" and "/dashboard"
	r.HandleFunc("/", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")

	bind := s.listenCfg.APIBind
	if bind == "" {
		bind = "0.0.0.0"
	}
	addr := fmt.Sprintf("%s:%d", bind, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] admin API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Database lifecycle handlers ---

type openDatabaseRequest struct {
	Name               string `json:"name"`
	NumReadConnections int    `json:"numReadConnections"`
	Location           string `json:"location,omitempty"`
}

type databaseResponse struct {
	Name   string                 `json:"name"`
	Stats  *pool.Stats            `json:"stats,omitempty"`
	Health *health.DatabaseHealth `json:"health,omitempty"`
}

func (s *Server) databaseResponseFor(name string, stats pool.Stats) databaseResponse {
	h := s.healthCheck.GetStatus(name)
	return databaseResponse{Name: name, Stats: &stats, Health: &h}
}

func (s *Server) listDatabases(w http.ResponseWriter, r *http.Request) {
	statsList := s.coordinator.Registry().Stats()

	result := make([]databaseResponse, 0, len(statsList))
	for _, st := range statsList {
		result = append(result, s.databaseResponseFor(st.DBName, st))
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) openDatabase(w http.ResponseWriter, r *http.Request) {
	var req openDatabaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	err := s.coordinator.Open(ctx, req.Name, ops.OpenOptions{
		NumReadConnections: req.NumReadConnections,
		Location:           req.Location,
	}, pool.Callbacks{})
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	log.Printf("[api] database %s opened (numReadConnections=%d)", req.Name, req.NumReadConnections)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "opened", "name": req.Name})
}

func (s *Server) getDatabase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	p := s.coordinator.Registry().Get(name)
	if p == nil {
		writeError(w, http.StatusNotFound, "database not open")
		return
	}

	writeJSON(w, http.StatusOK, s.databaseResponseFor(name, p.Stats()))
}

func (s *Server) closeDatabase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if s.coordinator.Registry().Get(name) == nil {
		writeError(w, http.StatusNotFound, "database not open")
		return
	}

	if err := s.coordinator.Close(name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.healthCheck.RemoveDatabase(name)
	if s.metrics != nil {
		s.metrics.RemoveDatabase(name)
	}

	log.Printf("[api] database %s closed", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "name": name})
}

func (s *Server) databaseStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	p := s.coordinator.Registry().Get(name)
	if p == nil {
		writeError(w, http.StatusNotFound, "database not open")
		return
	}

	writeJSON(w, http.StatusOK, p.Stats())
}

// --- Health handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":    boolToStatus(allHealthy),
		"databases": statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	names := s.coordinator.Registry().Names()
	if len(names) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	for _, name := range names {
		if s.healthCheck.IsHealthy(name) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}

	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

// --- Status handler ---

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(s.startTime).Seconds()
	names := s.coordinator.Registry().Names()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_databases":  len(names),
		"listen": map[string]interface{}{
			"api_port": s.listenCfg.APIPort,
			"api_bind": s.listenCfg.APIBind,
		},
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
