package api

import (
	"net/http"

	"github.com/seantiz/fusion/internal/executor"
)

func (s *Server) handleListExecutors(w http.ResponseWriter, r *http.Request) {
	capType := r.URL.Query().Get("capability")
	if capType == "" {
		s.writeJSON(w, http.StatusOK, s.registry.List())
		return
	}

	matches := s.registry.FindByCapability(capType)
	infos := make([]executor.Info, len(matches))
	for i, e := range matches {
		infos[i] = executor.Info{ID: e.ID(), Capabilities: e.Capabilities()}
	}
	s.writeJSON(w, http.StatusOK, infos)
}
