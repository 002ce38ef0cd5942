package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/groblegark/arbiter/internal/evaluation"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)

	mux.HandleFunc("POST /v1/evaluations", s.handleSubmitEvaluation)
	mux.HandleFunc("GET /v1/evaluations/{id}", s.handleGetEvaluation)
	mux.HandleFunc("GET /v1/sessions/{id}/evaluations", s.handleListSessionEvaluations)
	mux.HandleFunc("GET /v1/evaluators/{address}/evaluations", s.handleListEvaluatorEvaluations)

	mux.HandleFunc("GET /v1/sessions/{id}/assessment", s.handleGetAssessment)
	mux.HandleFunc("GET /v1/sessions/{id}/outcome", s.handleGetOutcome)
	mux.HandleFunc("POST /v1/sessions/{id}/finalize", s.handleFinalizeSession)
	mux.HandleFunc("POST /v1/sessions/{id}/voting", s.handleStartVoting)
	mux.HandleFunc("POST /v1/sessions/{id}/voting/extend", s.handleExtendVoting)
	mux.HandleFunc("GET /v1/sessions/{id}/voting", s.handleGetVoting)

	mux.HandleFunc("GET /v1/queue/stats", s.handleQueueStats)
	mux.HandleFunc("GET /v1/queue/failed", s.handleListFailed)
	mux.HandleFunc("POST /v1/queue/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /v1/queue/purge", s.handlePurge)

	mux.HandleFunc("GET /v1/watcher/status", s.handleWatcherStatus)
	mux.HandleFunc("GET /v1/watcher/health", s.handleWatcherHealth)
	mux.HandleFunc("POST /v1/watcher/watch", s.handleWatch)
	mux.HandleFunc("POST /v1/watcher/unwatch", s.handleUnwatch)
	mux.HandleFunc("POST /v1/watcher/replay", s.handleReplay)

	mux.HandleFunc("GET /v1/checkpoints", s.handleListCheckpoints)
	mux.HandleFunc("GET /v1/checkpoints/{contract}", s.handleGetCheckpoint)

	mux.HandleFunc("GET /v1/events/logs", s.handleListEventLogs)
	mux.HandleFunc("GET /v1/events/errors", s.handleListEventErrors)
	mux.HandleFunc("GET /v1/events/errors/summary", s.handleSummarizeErrors)
	mux.HandleFunc("POST /v1/events/errors/{id}/resolve", s.handleResolveError)
	mux.HandleFunc("GET /v1/events/health", s.handleEventsHealth)
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.Check(r.Context())
	code := http.StatusOK
	if !st.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps err to a status code and writes it. Validation
// failures carry their full error and warning lists.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *evaluation.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"errors": ve.Errors, "warnings": ve.Warnings})
		return
	}
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, code, err.Error())
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return inputError("invalid JSON body")
	}
	return nil
}

// queryInt parses a non-negative integer query parameter, returning def
// when it is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, inputError(name + " must be a non-negative integer")
	}
	return n, nil
}

// parseDuration accepts Go duration strings ("36h") or a bare number of
// hours.
func parseDuration(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	if h, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(h * float64(time.Hour)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, inputError("invalid duration " + strconv.Quote(v))
	}
	return d, nil
}
