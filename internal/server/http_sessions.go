package server

import (
	"net/http"
	"time"

	"github.com/groblegark/arbiter/internal/evaluation"
	"github.com/groblegark/arbiter/internal/model"
)

// handleSubmitEvaluation handles POST /v1/evaluations.
func (s *Server) handleSubmitEvaluation(w http.ResponseWriter, r *http.Request) {
	var sub evaluation.Submission
	if err := decodeBody(r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sub.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	res, err := s.Evaluations.Submit(r.Context(), sub)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleGetEvaluation handles GET /v1/evaluations/{id}.
func (s *Server) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	e, err := s.Evaluations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleListSessionEvaluations handles GET /v1/sessions/{id}/evaluations.
func (s *Server) handleListSessionEvaluations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.Store.GetSession(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	evals, err := s.Evaluations.ListBySession(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if evals == nil {
		evals = []*model.Evaluation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": evals, "total": len(evals)})
}

// handleListEvaluatorEvaluations handles GET /v1/evaluators/{address}/evaluations.
func (s *Server) handleListEvaluatorEvaluations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h, err := s.Evaluations.ListByEvaluator(r.Context(), r.PathValue("address"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if h.Evaluations == nil {
		h.Evaluations = []*model.Evaluation{}
	}
	writeJSON(w, http.StatusOK, h)
}

// handleGetAssessment handles GET /v1/sessions/{id}/assessment.
func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := s.Assessments.Assessment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleGetOutcome handles GET /v1/sessions/{id}/outcome.
func (s *Server) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Outcomes.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleFinalizeSession handles POST /v1/sessions/{id}/finalize.
func (s *Server) handleFinalizeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, err := s.Outcomes.FinalizeSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sess, err := s.Store.GetSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FinalizeResult{Session: sess, Outcome: o})
}

// FinalizeResult is the settled session and the outcome it settled with.
type FinalizeResult struct {
	Session *model.Session `json:"session"`
	Outcome *model.Outcome `json:"outcome"`
}

type votingInput struct {
	Duration string `json:"duration"`
}

// handleStartVoting handles POST /v1/sessions/{id}/voting.
func (s *Server) handleStartVoting(w http.ResponseWriter, r *http.Request) {
	d, ok := votingDuration(w, r)
	if !ok {
		return
	}
	p, err := s.Periods.Start(r.Context(), r.PathValue("id"), d)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleExtendVoting handles POST /v1/sessions/{id}/voting/extend.
func (s *Server) handleExtendVoting(w http.ResponseWriter, r *http.Request) {
	d, ok := votingDuration(w, r)
	if !ok {
		return
	}
	if d < 0 {
		writeError(w, http.StatusBadRequest, "duration must be positive")
		return
	}
	p, err := s.Periods.Extend(r.Context(), r.PathValue("id"), d)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleGetVoting handles GET /v1/sessions/{id}/voting.
func (s *Server) handleGetVoting(w http.ResponseWriter, r *http.Request) {
	p, err := s.Periods.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// votingDuration reads the optional duration from the body, falling back
// to the ?duration query parameter. It writes the error response itself.
func votingDuration(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	var in votingInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	if in.Duration == "" {
		in.Duration = r.URL.Query().Get("duration")
	}
	d, err := parseDuration(in.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return d, true
}
