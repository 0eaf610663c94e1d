package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/klubi/scout/internal/agent"
	"github.com/klubi/scout/internal/store"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeJSON serialises data as JSON and writes it to the response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

// writeError writes a JSON error envelope to the response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Schemas())
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// handleListRuns returns saved runs newest first. ?phase=X keeps only runs
// in that phase.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	phase := v1alpha1.RunPhase(r.URL.Query().Get("phase"))
	out := make([]*v1alpha1.Run, 0, len(runs))
	for _, run := range runs {
		if phase != "" && run.Status.Phase != phase {
			continue
		}
		out = append(out, run)
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

// handleCreateRun launches a run in the background and answers 202 with the
// record as first stored.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req v1alpha1.RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	spec, err := req.Spec()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.runtime.Start(spec)
	if err != nil {
		if errors.Is(err, agent.ErrInvalidRunSpec) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

// handleDeleteRun stops an active run, or deletes the record of a
// finished one.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.runtime.Stop(id)
	if err == nil {
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "id": id})
		return
	}
	if !errors.Is(err, agent.ErrNotActive) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
