package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/groblegark/arbiter/internal/maintenance"
	"github.com/groblegark/arbiter/internal/model"
)

// handleQueueStats handles GET /v1/queue/stats.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Queue.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleListFailed handles GET /v1/queue/failed.
func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.Queue.FailedEvents(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []*model.EventQueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// handleRetry handles POST /v1/queue/{id}/retry.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Queue.RetryEvent(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(model.QueuePending)})
}

// handlePurge handles POST /v1/queue/purge.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", maintenance.PurgeAfterDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.Queue.PurgeCompleted(r.Context(), days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

// requireWatcher writes 503 when ingestion is disabled.
func (s *Server) requireWatcher(w http.ResponseWriter) bool {
	if s.Watcher == nil || s.Checkpoints == nil {
		writeError(w, http.StatusServiceUnavailable, "chain watcher is not configured")
		return false
	}
	return true
}

// handleWatcherStatus handles GET /v1/watcher/status.
func (s *Server) handleWatcherStatus(w http.ResponseWriter, _ *http.Request) {
	if !s.requireWatcher(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watchers": s.Watcher.Status()})
}

// handleWatcherHealth handles GET /v1/watcher/health.
func (s *Server) handleWatcherHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.requireWatcher(w) {
		return
	}
	h := s.Watcher.Health()
	code := http.StatusOK
	if !h.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

type watchInput struct {
	Contract  string   `json:"contract"`
	Events    []string `json:"events"`
	FromBlock *uint64  `json:"from_block,omitempty"`
}

func (in watchInput) validate() error {
	if model.NormalizeAddress(in.Contract) == "" {
		return inputError("contract is required")
	}
	for _, e := range in.Events {
		if !model.EventName(e).IsKnown() {
			return inputError("unknown event " + strconv.Quote(e))
		}
	}
	return nil
}

// handleWatch handles POST /v1/watcher/watch.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if !s.requireWatcher(w) {
		return
	}
	var in watchInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Watcher.Watch(r.Context(), in.Contract, in.Events); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contract": model.NormalizeAddress(in.Contract), "watching": true})
}

// handleUnwatch handles POST /v1/watcher/unwatch. An empty contract stops
// every watcher.
func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	if !s.requireWatcher(w) {
		return
	}
	var in watchInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Contract == "" {
		writeJSON(w, http.StatusOK, map[string]int{"stopped": s.Watcher.UnwatchAll()})
		return
	}
	if !s.Watcher.Unwatch(in.Contract) {
		writeError(w, http.StatusNotFound, "contract is not watched")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stopped": 1})
}

// handleReplay handles POST /v1/watcher/replay.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if !s.requireWatcher(w) {
		return
	}
	var in watchInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.Watcher.Replay(r.Context(), in.Contract, in.FromBlock)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contract": model.NormalizeAddress(in.Contract), "enqueued": n})
}

// handleListCheckpoints handles GET /v1/checkpoints.
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if !s.requireWatcher(w) {
		return
	}
	cps, err := s.Checkpoints.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if cps == nil {
		cps = []*model.EventCheckpoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": cps})
}

// handleGetCheckpoint handles GET /v1/checkpoints/{contract}.
func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !s.requireWatcher(w) {
		return
	}
	cp, err := s.Checkpoints.Lookup(r.Context(), r.PathValue("contract"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func eventFilter(r *http.Request) (model.EventLogFilter, error) {
	q := r.URL.Query()
	f := model.EventLogFilter{
		ContractAddress: model.NormalizeAddress(q.Get("contract")),
		EventName:       q.Get("event"),
		Unresolved:      q.Get("unresolved") == "true",
	}
	var err error
	if f.Limit, err = queryInt(r, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

// handleListEventLogs handles GET /v1/events/logs.
func (s *Server) handleListEventLogs(w http.ResponseWriter, r *http.Request) {
	f, err := eventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := s.Store.ListEventLogs(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*model.EventLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// handleListEventErrors handles GET /v1/events/errors.
func (s *Server) handleListEventErrors(w http.ResponseWriter, r *http.Request) {
	f, err := eventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	errs, err := s.Store.ListEventErrors(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if errs == nil {
		errs = []*model.EventError{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": errs})
}

// handleSummarizeErrors handles GET /v1/events/errors/summary. ?hours
// bounds the window, default 24.
func (s *Server) handleSummarizeErrors(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	sum, err := s.Store.SummarizeEventErrors(r.Context(), since)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if sum == nil {
		sum = []*model.ErrorSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"since": since, "summary": sum})
}

// handleResolveError handles POST /v1/events/errors/{id}/resolve.
func (s *Server) handleResolveError(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid error id")
		return
	}
	if err := s.Store.ResolveEventError(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

// handleEventsHealth handles GET /v1/events/health.
func (s *Server) handleEventsHealth(w http.ResponseWriter, r *http.Request) {
	if s.Maintenance == nil {
		writeError(w, http.StatusServiceUnavailable, "maintenance is not configured")
		return
	}
	h, err := s.Maintenance.Health(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	code := http.StatusOK
	if !h.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}
