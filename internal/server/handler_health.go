package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/me/os3/internal/kernel"
	"github.com/me/os3/pkg/model"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Kernel    string `json:"kernel"`
	Store     string `json:"store"`
	Builtins  int    `json:"builtins"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	resp := healthResponse{
		Status:    "healthy",
		Version:   kernel.Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Kernel:    "idle",
		Store:     "ok",
		Builtins:  len(s.registry.List()),
	}
	if len(s.runs) > 0 {
		resp.Kernel = "running"
	}
	if _, _, err := s.store.ListRuns(r.Context(), model.ListOptions{Limit: 1}); err != nil {
		s.logger.Warn("store health check failed", "error", err)
		resp.Status = "degraded"
		resp.Store = "unavailable"
	}
	respondOK(w, reqID, resp)
}
