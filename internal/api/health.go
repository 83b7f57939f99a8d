package api

import (
	"net/http"
)

type healthResponse struct {
	Status    string `json:"status"`
	Executors int    `json:"executors"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Executors: s.registry.Len()})
}
