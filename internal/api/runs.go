package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/fusion/internal/engine"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// startRunRequest is the JSON body for POST /v1/runs.
type startRunRequest struct {
	DefinitionID string         `json:"definition_id"`
	Metadata     map[string]any `json:"metadata"`
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []engine.Status `json:"runs"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// stopRunResponse reports whether DELETE changed the run.
type stopRunResponse struct {
	Stopped bool          `json:"stopped"`
	Run     engine.Status `json:"run"`
}

// handleStartRun starts a run. With ?wait=true it responds once the run is
// terminal; otherwise it responds 202 with the running status.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DefinitionID == "" {
		s.writeError(w, http.StatusBadRequest, "definition_id is required")
		return
	}

	wait := r.URL.Query().Get("wait") == "true"

	var (
		st  engine.Status
		err error
	)
	if wait {
		st, err = s.coord.Run(r.Context(), req.DefinitionID, req.Metadata)
	} else {
		st, err = s.coord.Start(req.DefinitionID, req.Metadata)
	}

	switch {
	case errors.Is(err, engine.ErrDefinitionNotFound):
		s.writeError(w, http.StatusNotFound, "definition not found")
		return
	case errors.Is(err, engine.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "coordinator is shutting down")
		return
	case err != nil && st.ID == "":
		s.logger.Error("start run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	// A waiting client that gives up still gets the run it started.
	if !wait || err != nil {
		s.writeJSON(w, http.StatusAccepted, st)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	all := s.coord.Runs()
	total := len(all)
	start := min(offset, total)
	end := min(start+limit, total)

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   all[start:end],
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.Status(chi.URLParam(r, "id"))
	if errors.Is(err, engine.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	st, stopped, err := s.coord.Stop(chi.URLParam(r, "id"))
	if errors.Is(err, engine.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("stop run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to stop run")
		return
	}
	s.writeJSON(w, http.StatusOK, stopRunResponse{Stopped: stopped, Run: st})
}
