package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Definitions   int            `json:"definitions"`
	Executors     int            `json:"executors"`
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.coord.Stats()
	s.writeJSON(w, http.StatusOK, statsResponse{
		Definitions:   stats.Definitions,
		Executors:     s.registry.Len(),
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		AvgDurationMS: stats.AvgDurationMS,
	})
}
