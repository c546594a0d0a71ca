package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/dbbouncer/mysqlclient/internal/config"
	"github.com/dbbouncer/mysqlclient/pool"
)

func newTestServer() (*Server, *mux.Router) {
	pm := pool.NewManager()
	s := NewServer(pm, config.ListenConfig{Addr: "127.0.0.1:0"})

	mr := mux.NewRouter()
	mr.HandleFunc("/status", s.statusHandler).Methods("GET")
	mr.HandleFunc("/pools", s.listPools).Methods("GET")
	mr.HandleFunc("/pools/{name}", s.getPool).Methods("GET")
	mr.HandleFunc("/healthz", s.healthzHandler).Methods("GET")

	return s, mr
}

func TestStatusHandler(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("expected uptime_seconds in response")
	}
}

func TestListPoolsEmpty(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/pools", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var stats []pool.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(stats) != 0 {
		t.Errorf("expected no pools, got %d", len(stats))
	}
}

func TestGetPoolNotFound(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/pools/missing", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHealthzHealthyWithNoPools(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
