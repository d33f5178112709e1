package server

import "net/http"

type appInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	builtins := s.registry.List()
	apps := make([]appInfo, 0, len(builtins))
	for _, b := range builtins {
		apps = append(apps, appInfo{Name: b.Name, Description: b.Description})
	}
	respondOK(w, reqID, apps)
}
