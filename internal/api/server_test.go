package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/quicksqlite/corepool/internal/config"
	"github.com/quicksqlite/corepool/internal/health"
	"github.com/quicksqlite/corepool/internal/metrics"
	"github.com/quicksqlite/corepool/internal/ops"
	"github.com/quicksqlite/corepool/internal/pool"
	"github.com/quicksqlite/corepool/internal/registry"
)

var testHealthCfg = health.Config{
	Interval:         time.Minute,
	FailureThreshold: 3,
	ProbeTimeout:     5 * time.Second,
}

func newTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	reg := registry.New(t.TempDir(), nil, nil)
	t.Cleanup(func() { reg.CloseAll() })

	coordinator := ops.New(reg)
	if err := coordinator.Open(context.Background(), "main", ops.OpenOptions{}, pool.Callbacks{}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	m := metrics.New()
	hc := health.NewChecker(reg, m, testHealthCfg)

	s := NewServer(coordinator, hc, m, config.ListenConfig{APIPort: 0, APIBind: "127.0.0.1"})

	mr := mux.NewRouter()
	mr.HandleFunc("/databases", s.listDatabases).Methods("GET")
	mr.HandleFunc("/databases", s.openDatabase).Methods("POST")
	mr.HandleFunc("/databases/{name}", s.getDatabase).Methods("GET")
	mr.HandleFunc("/databases/{name}", s.closeDatabase).Methods("DELETE")
	mr.HandleFunc("/databases/{name}/stats", s.databaseStats).Methods("GET")
	mr.HandleFunc("/health", s.healthHandler).Methods("GET")
	mr.HandleFunc("/ready", s.readyHandler).Methods("GET")
	mr.HandleFunc("/status", s.statusHandler).Methods("GET")

	return s, mr
}

func TestListDatabases(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/databases", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	var result []databaseResponse
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(result) != 1 {
		t.Errorf("expected 1 database, got %d", len(result))
	}
	if result[0].Name != "main" {
		t.Errorf("expected database named main, got %q", result[0].Name)
	}
}

func TestOpenDatabase(t *testing.T) {
	_, mr := newTestServer(t)

	body := `{"name": "secondary", "numReadConnections": 1}`
	req := httptest.NewRequest("POST", "/databases", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOpenDatabaseMissingName(t *testing.T) {
	_, mr := newTestServer(t)

	body := `{"numReadConnections": 1}`
	req := httptest.NewRequest("POST", "/databases", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestOpenDatabaseAlreadyOpenConflict(t *testing.T) {
	_, mr := newTestServer(t)

	body := `{"name": "main"}`
	req := httptest.NewRequest("POST", "/databases", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 re-opening an open database, got %d", rr.Code)
	}
}

func TestGetDatabase(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/databases/main", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	var result databaseResponse
	json.NewDecoder(rr.Body).Decode(&result)
	if result.Name != "main" {
		t.Errorf("expected main, got %s", result.Name)
	}
}

func TestGetDatabaseNotFound(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/databases/nonexistent", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestDatabaseStats(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/databases/main/stats", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	var result pool.Stats
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.DBName != "main" {
		t.Errorf("expected dbName main, got %q", result.DBName)
	}
}

func TestCloseDatabase(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("DELETE", "/databases/main", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/databases/main", nil)
	rr = httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after close, got %d", rr.Code)
	}
}

func TestCloseDatabaseNotOpen(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("DELETE", "/databases/nonexistent", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	// A freshly opened database has no health record yet, which counts as
	// healthy (StatusUnknown), so overall should be 200.
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/ready", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := result["uptime_seconds"]; !ok {
		t.Error("expected uptime_seconds in status response")
	}
	if num, ok := result["num_databases"].(float64); !ok || num != 1 {
		t.Errorf("expected num_databases=1, got %v", result["num_databases"])
	}
}
