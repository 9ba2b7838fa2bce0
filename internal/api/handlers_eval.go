package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/daily-papers/internal/evaluation"
)

var startMessages = map[evaluation.StartStatus]string{
	evaluation.StartStarted:          "Evaluation started for ",
	evaluation.StartAlreadyRunning:   "Evaluation already running for ",
	evaluation.StartAlreadyEvaluated: "Paper already evaluated: ",
}

func (s *Server) startEvaluation(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force_reevaluate"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "force_reevaluate must be a boolean")
			return
		}
		force = v
	}
	s.start(w, r, force)
}

func (s *Server) reevaluate(w http.ResponseWriter, r *http.Request) {
	s.start(w, r, true)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, force bool) {
	id := chi.URLParam(r, "arxiv_id")
	status, err := s.evaluations.StartEvaluation(r.Context(), id, force)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	code := http.StatusOK
	if status == evaluation.StartStarted {
		code = http.StatusAccepted
	}
	writeJSON(w, code, map[string]string{
		"message":  startMessages[status] + id,
		"status":   string(status),
		"arxiv_id": id,
	})
}

func (s *Server) evaluationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.evaluations.GetStatus(r.Context(), chi.URLParam(r, "arxiv_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) activeTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.evaluations.ListActiveTasks())
}
