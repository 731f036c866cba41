// Health and readiness probe handlers.

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/getmockd/chatd/pkg/httputil"
)

// readyTimeout bounds each readiness check.
const readyTimeout = 3 * time.Second

// Check is the result of a single readiness check.
type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// pinger is implemented by backends that can report connectivity.
type pinger interface {
	Ping(ctx context.Context) error
}

// handleHealth handles the liveness probe endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, map[string]string{"status": "ok"})
}

// handleReady pings the store and, when it supports it, the bus.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]Check{
		"store": s.check(r.Context(), s.store),
	}
	if p, ok := s.bus.(pinger); ok {
		checks["bus"] = s.check(r.Context(), p)
	}

	ready := true
	for _, c := range checks {
		if c.Status != "pass" {
			ready = false
		}
	}

	if !ready {
		httputil.WriteServiceUnavailable(w, map[string]any{"status": "unavailable", "checks": checks})
		return
	}
	httputil.WriteOK(w, map[string]any{"status": "ready", "checks": checks})
}

func (s *Server) check(ctx context.Context, p pinger) Check {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		return Check{Status: "fail", Message: err.Error()}
	}
	return Check{Status: "pass", Latency: time.Since(start).String()}
}
