// Package api serves the HTTP status surface: health, hub statistics, the
// online roster, and the Prometheus metrics endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nmdchub/nmdchub/internal/hub"
	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/pkg/config"
	"github.com/nmdchub/nmdchub/pkg/metrics"
)

// Server is the status API HTTP server.
type Server struct {
	hub  *hub.Hub
	http *http.Server
}

// New builds the status server for a hub.
func New(cfg config.APIConfig, h *hub.Hub) *Server {
	s := &Server{hub: h}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/api/v1/users", s.handleUsers)
	if metrics.IsEnabled() {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start runs the listener. Blocks until Shutdown or a listen error.
func (s *Server) Start() error {
	logger.Info("status api listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status api: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Name    string `json:"name"`
	Uptime  string `json:"uptime"`
	Users   int    `json:"users"`
	Ops     int    `json:"ops"`
	Private bool   `json:"private"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.hub.Lock()
	resp := statusResponse{
		Name:    s.hub.Config().Name,
		Uptime:  time.Since(s.hub.StartTime()).Round(time.Second).String(),
		Private: s.hub.Config().Private,
	}
	s.hub.EachUser(func(*hub.Session) { resp.Users++ })
	s.hub.EachOp(func(*hub.Session) { resp.Ops++ })
	s.hub.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

type userResponse struct {
	Nick     string    `json:"nick"`
	Op       bool      `json:"op"`
	Verified bool      `json:"verified"`
	Share    uint64    `json:"share"`
	Joined   time.Time `json:"joined"`
	MyINFO   string    `json:"myinfo"`
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	var users []userResponse
	s.hub.Lock()
	s.hub.EachUser(func(u *hub.Session) {
		users = append(users, userResponse{
			Nick:     u.Nick(),
			Op:       u.IsOp(),
			Verified: u.IsVerified(),
			Share:    u.ShareSize(),
			Joined:   u.JoinTime(),
			MyINFO:   u.MyINFOText(),
		})
	})
	s.hub.Unlock()
	if users == nil {
		users = []userResponse{}
	}
	writeJSON(w, http.StatusOK, users)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("status api encode failed", "error", err)
	}
}
