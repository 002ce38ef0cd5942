package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/groblegark/arbiter/internal/evaluation"
	"github.com/groblegark/arbiter/internal/model"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	rawPath     string
	query       string
	body        string
	contentType string
	auth        string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", "tok")
}

func TestHTTPClient_SubmitEvaluation(t *testing.T) {
	h := &testHandler{
		statusCode: http.StatusCreated,
		responseBody: `{
			"evaluation": {"id": "ev-1", "session_id": "s1", "evaluator_address": "0xccc", "vote": true, "weight": 120, "confidence": 80},
			"weight": {"final_weight": 120},
			"warnings": ["Short reasoning may reduce your evaluation weight"]
		}`,
	}
	c := newTestClient(t, h)

	res, err := c.SubmitEvaluation(context.Background(), evaluation.Submission{
		SessionID:        "s1",
		EvaluatorAddress: "0xccc",
		Vote:             true,
		Confidence:       80,
		Reasoning:        "convincing",
	})
	if err != nil {
		t.Fatalf("SubmitEvaluation() error = %v", err)
	}

	if h.method != http.MethodPost || h.path != "/v1/evaluations" {
		t.Errorf("request = %s %s, want POST /v1/evaluations", h.method, h.path)
	}
	if h.contentType != "application/json" {
		t.Errorf("content-type = %q, want application/json", h.contentType)
	}
	if h.auth != "Bearer tok" {
		t.Errorf("authorization = %q, want 'Bearer tok'", h.auth)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(h.body), &body); err != nil {
		t.Fatalf("unmarshaling request body: %v", err)
	}
	if body["session_id"] != "s1" || body["confidence"] != float64(80) {
		t.Errorf("request body = %v", body)
	}

	if res.Evaluation.ID != "ev-1" || res.Evaluation.Weight != 120 {
		t.Errorf("evaluation = %+v", res.Evaluation)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v, want 1", res.Warnings)
	}
}

func TestHTTPClient_SubmitEvaluation_Rejected(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusBadRequest,
		responseBody: `{"errors": ["Voting period has ended", "Reasoning is required"], "warnings": []}`,
	}
	c := newTestClient(t, h)

	_, err := c.SubmitEvaluation(context.Background(), evaluation.Submission{SessionID: "s1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || len(apiErr.Errors) != 2 {
		t.Errorf("APIError = %+v", apiErr)
	}
	if apiErr.Error() != "HTTP 400: Voting period has ended; Reasoning is required" {
		t.Errorf("Error() = %q", apiErr.Error())
	}
}

func TestHTTPClient_Paths(t *testing.T) {
	ctx := context.Background()
	from := uint64(42)
	for _, tc := range []struct {
		name      string
		call      func(c *HTTPClient) error
		method    string
		path      string
		query     string
		bodyField string
	}{
		{"GetEvaluation", func(c *HTTPClient) error { _, err := c.GetEvaluation(ctx, "a/b"); return err },
			"GET", "/v1/evaluations/a/b", "", ""},
		{"ListSessionEvaluations", func(c *HTTPClient) error { _, err := c.ListSessionEvaluations(ctx, "s1"); return err },
			"GET", "/v1/sessions/s1/evaluations", "", ""},
		{"ListEvaluatorEvaluations", func(c *HTTPClient) error { _, err := c.ListEvaluatorEvaluations(ctx, "0xabc", 5); return err },
			"GET", "/v1/evaluators/0xabc/evaluations", "limit=5", ""},
		{"Assessment", func(c *HTTPClient) error { _, err := c.Assessment(ctx, "s1"); return err },
			"GET", "/v1/sessions/s1/assessment", "", ""},
		{"Outcome", func(c *HTTPClient) error { _, err := c.Outcome(ctx, "s1"); return err },
			"GET", "/v1/sessions/s1/outcome", "", ""},
		{"Finalize", func(c *HTTPClient) error { _, err := c.Finalize(ctx, "s1"); return err },
			"POST", "/v1/sessions/s1/finalize", "", ""},
		{"StartVoting", func(c *HTTPClient) error { _, err := c.StartVoting(ctx, "s1", 36*time.Hour); return err },
			"POST", "/v1/sessions/s1/voting", "", "duration"},
		{"ExtendVoting", func(c *HTTPClient) error { _, err := c.ExtendVoting(ctx, "s1", 0); return err },
			"POST", "/v1/sessions/s1/voting/extend", "", ""},
		{"VotingStatus", func(c *HTTPClient) error { _, err := c.VotingStatus(ctx, "s1"); return err },
			"GET", "/v1/sessions/s1/voting", "", ""},
		{"QueueStats", func(c *HTTPClient) error { _, err := c.QueueStats(ctx); return err },
			"GET", "/v1/queue/stats", "", ""},
		{"FailedEvents", func(c *HTTPClient) error { _, err := c.FailedEvents(ctx, 10); return err },
			"GET", "/v1/queue/failed", "limit=10", ""},
		{"RetryEvent", func(c *HTTPClient) error { return c.RetryEvent(ctx, "q1") },
			"POST", "/v1/queue/q1/retry", "", ""},
		{"PurgeCompleted", func(c *HTTPClient) error { _, err := c.PurgeCompleted(ctx, 3); return err },
			"POST", "/v1/queue/purge", "days=3", ""},
		{"WatcherStatus", func(c *HTTPClient) error { _, err := c.WatcherStatus(ctx); return err },
			"GET", "/v1/watcher/status", "", ""},
		{"Watch", func(c *HTTPClient) error { return c.Watch(ctx, "0xc0ffee", []string{"SessionCreated"}) },
			"POST", "/v1/watcher/watch", "", "events"},
		{"Unwatch", func(c *HTTPClient) error { _, err := c.Unwatch(ctx, "0xc0ffee"); return err },
			"POST", "/v1/watcher/unwatch", "", "contract"},
		{"Replay", func(c *HTTPClient) error { _, err := c.Replay(ctx, "0xc0ffee", &from); return err },
			"POST", "/v1/watcher/replay", "", "from_block"},
		{"Checkpoints", func(c *HTTPClient) error { _, err := c.Checkpoints(ctx); return err },
			"GET", "/v1/checkpoints", "", ""},
		{"Checkpoint", func(c *HTTPClient) error { _, err := c.Checkpoint(ctx, "0xc0ffee"); return err },
			"GET", "/v1/checkpoints/0xc0ffee", "", ""},
		{"EventLogs", func(c *HTTPClient) error {
			_, err := c.EventLogs(ctx, model.EventLogFilter{EventName: "VotingStarted", Limit: 20})
			return err
		}, "GET", "/v1/events/logs", "event=VotingStarted&limit=20", ""},
		{"EventErrors", func(c *HTTPClient) error {
			_, err := c.EventErrors(ctx, model.EventLogFilter{ContractAddress: "0xc0ffee", Unresolved: true})
			return err
		}, "GET", "/v1/events/errors", "contract=0xc0ffee&unresolved=true", ""},
		{"ErrorSummary", func(c *HTTPClient) error { _, err := c.ErrorSummary(ctx, 6); return err },
			"GET", "/v1/events/errors/summary", "hours=6", ""},
		{"ResolveError", func(c *HTTPClient) error { return c.ResolveError(ctx, 7) },
			"POST", "/v1/events/errors/7/resolve", "", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := &testHandler{responseBody: `{}`}
			c := newTestClient(t, h)
			if err := tc.call(c); err != nil {
				t.Fatalf("call error = %v", err)
			}
			if h.method != tc.method {
				t.Errorf("method = %q, want %q", h.method, tc.method)
			}
			if h.path != tc.path {
				t.Errorf("path = %q, want %q", h.path, tc.path)
			}
			if h.query != tc.query {
				t.Errorf("query = %q, want %q", h.query, tc.query)
			}
			if tc.bodyField != "" {
				var body map[string]any
				if err := json.Unmarshal([]byte(h.body), &body); err != nil {
					t.Fatalf("unmarshaling request body: %v", err)
				}
				if _, ok := body[tc.bodyField]; !ok {
					t.Errorf("request body %s missing %q", h.body, tc.bodyField)
				}
			}
		})
	}
}

func TestHTTPClient_PathEscape(t *testing.T) {
	h := &testHandler{responseBody: `{}`}
	c := newTestClient(t, h)
	if _, err := c.GetEvaluation(context.Background(), "a/b"); err != nil {
		t.Fatal(err)
	}
	if h.rawPath != "/v1/evaluations/a%2Fb" {
		t.Errorf("raw path = %q, want escaped slash", h.rawPath)
	}
}

func TestHTTPClient_Health(t *testing.T) {
	for _, tc := range []struct {
		name    string
		code    int
		body    string
		healthy bool
		wantErr bool
	}{
		{"Healthy", http.StatusOK, `{"healthy": true}`, true, false},
		{"Unhealthy", http.StatusServiceUnavailable, `{"healthy": false, "watcher": {"healthy": false, "watchers": 1, "stale": ["0xc0ffee"]}}`, false, false},
		{"CheckFailed", http.StatusServiceUnavailable, `{"healthy": false, "error": "db down"}`, false, true},
		{"ServerError", http.StatusInternalServerError, `oops`, false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, &testHandler{statusCode: tc.code, responseBody: tc.body})
			st, err := c.Health(context.Background())
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Health() error = %v", err)
			}
			if st.Healthy != tc.healthy {
				t.Errorf("healthy = %v, want %v", st.Healthy, tc.healthy)
			}
		})
	}
}

func TestHTTPClient_ErrorBody(t *testing.T) {
	c := newTestClient(t, &testHandler{statusCode: http.StatusConflict, responseBody: `{"error": "session is not in voting"}`})
	_, err := c.Finalize(context.Background(), "s1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("error = %v, want 409 APIError", err)
	}
	if apiErr.Message != "session is not in voting" {
		t.Errorf("message = %q", apiErr.Message)
	}
}
