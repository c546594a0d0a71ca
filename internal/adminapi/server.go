// Package adminapi is the ambient HTTP surface for a mysqlbench-style
// process: pool status, health, and a Prometheus exposition endpoint.
package adminapi

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

	"github.com/dbbouncer/mysqlclient/internal/config"
	"github.com/dbbouncer/mysqlclient/pool"
)

// Server is the admin REST API and metrics server.
type Server struct {
	poolMgr    *pool.Manager
	httpServer *http.Server
	startTime  time.Time
	listenCfg  config.ListenConfig
}

// NewServer creates a new admin API server.
func NewServer(pm *pool.Manager, lc config.ListenConfig) *Server {
	return &Server{
		poolMgr:   pm,
		startTime: time.Now(),
		listenCfg: lc,
	}
}

// Start starts the HTTP API server listening on its configured address.
func (s *Server) Start() error {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/pools", s.listPools).Methods("GET")
	r.HandleFunc("/pools/{name}", s.getPool).Methods("GET")
	r.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	addr := s.listenCfg.Addr
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[adminapi] listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[adminapi] server error: %v", err)
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

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := s.poolMgr.AllStats()
	names := make([]string, 0, len(stats))
	for _, st := range stats {
		names = append(names, st.Name)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"pools":          names,
	})
}

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.poolMgr.AllStats())
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	p, ok := s.poolMgr.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("pool %q not found", name))
		return
	}

	writeJSON(w, http.StatusOK, p.Stats())
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	for _, st := range s.poolMgr.AllStats() {
		p, ok := s.poolMgr.Get(st.Name)
		if ok && p.Closed() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
