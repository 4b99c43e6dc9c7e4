// Package metricsserver adapts server/metrics.go and server/healthcheck.go
// verbatim in technique (a path-normalizing regex table, a
// sync.RWMutex-guarded request-count map, a /healthz uptime responder) onto
// Robocat's own endpoint set.
package metricsserver

import (
	"encoding/json"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

var pathNormalizers = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{pattern: regexp.MustCompile(`^/webhooks/forge$`), replacement: "/webhooks/forge"},
	{pattern: regexp.MustCompile(`^/webhooks/tracker$`), replacement: "/webhooks/tracker"},
}

// Server exposes /metrics (request counters by endpoint) and /healthz
// (uptime) over the same router other handlers can be mounted on.
type Server struct {
	startedAt time.Time

	mu     sync.RWMutex
	counts map[string]int

	router *mux.Router
}

// New builds a Server with its own mux.Router. Wrap returned by
// Middleware should front every handler whose traffic should be counted.
func New() *Server {
	s := &Server{
		startedAt: time.Now(),
		counts:    map[string]int{},
	}
	r := mux.NewRouter()
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Middleware records every request that reaches next, keyed by normalized
// method+path, before delegating to it.
func (s *Server) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.record(endpointKey(r))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) record(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[endpoint]++
}

func endpointKey(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return r.Method + " " + normalizePath(path)
}

func normalizePath(path string) string {
	for _, n := range pathNormalizers {
		if n.pattern.MatchString(path) {
			return n.pattern.ReplaceAllLiteralString(path, n.replacement)
		}
	}
	return path
}

func (s *Server) snapshot() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// MetricsResponse is the /metrics JSON payload.
type MetricsResponse struct {
	RequestCounts map[string]int `json:"request_counts"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := MetricsResponse{RequestCounts: s.snapshot()}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthzResponse is the /healthz JSON payload.
type HealthzResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := HealthzResponse{Status: "ok", Uptime: time.Since(s.startedAt).String()}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
