package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "os3 API",
		Version:     "v1",
		Description: "Cooperative multitasking kernel runs and their scheduling history",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET", "POST"}, "Recorded runs. POST boots the kernel over the posted application list"},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single run with its final task table"},
			{"/api/v1/runs/{id}/events", []string{"GET"}, "Scheduling events of a run in order"},
			{"/api/v1/runs/{id}/tasks", []string{"GET"}, "Final task control blocks of a run"},
			{"/api/v1/apps", []string{"GET"}, "Builtin applications available to runs"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
