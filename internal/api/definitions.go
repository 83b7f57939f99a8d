package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/fusion/internal/engine"
	"github.com/seantiz/fusion/internal/model"
)

// createDefinitionRequest is the JSON body for POST /v1/definitions.
type createDefinitionRequest struct {
	Name  string       `json:"name"`
	Steps []model.Step `json:"steps"`
}

// validationResponse is returned with 422 when a definition is rejected.
type validationResponse struct {
	Error      string             `json:"error"`
	Violations []engine.Violation `json:"violations"`
}

// definitionRunsResponse lists the persisted runs of one definition.
type definitionRunsResponse struct {
	DefinitionID string      `json:"definition_id"`
	Runs         []model.Run `json:"runs"`
}

func (s *Server) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req createDefinitionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	def, err := s.coord.CreateDefinition(req.Name, req.Steps)
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		s.writeJSON(w, http.StatusUnprocessableEntity, validationResponse{
			Error:      "invalid definition",
			Violations: verr.Violations,
		})
		return
	}
	if err != nil {
		s.logger.Error("create definition", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create definition")
		return
	}

	s.writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Definitions())
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.coord.Definition(chi.URLParam(r, "id"))
	if errors.Is(err, engine.ErrDefinitionNotFound) {
		s.writeError(w, http.StatusNotFound, "definition not found")
		return
	}
	if err != nil {
		s.logger.Error("get definition", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get definition")
		return
	}
	s.writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleListDefinitionRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.coord.Definition(id); errors.Is(err, engine.ErrDefinitionNotFound) {
		s.writeError(w, http.StatusNotFound, "definition not found")
		return
	}

	runs, err := s.coord.History(r.Context(), id)
	if err != nil {
		s.logger.Error("list definition runs", "definition_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read run history")
		return
	}

	s.writeJSON(w, http.StatusOK, definitionRunsResponse{DefinitionID: id, Runs: runs})
}
