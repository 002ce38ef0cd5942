package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/groblegark/arbiter/internal/evaluation"
	"github.com/groblegark/arbiter/internal/maintenance"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/outcome"
	"github.com/groblegark/arbiter/internal/period"
	"github.com/groblegark/arbiter/internal/server"
	"github.com/groblegark/arbiter/internal/watcher"
)

// HTTPClient implements Client using the arbiter HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Evaluations ---

func (c *HTTPClient) SubmitEvaluation(ctx context.Context, sub evaluation.Submission) (*evaluation.Submitted, error) {
	var res evaluation.Submitted
	if err := c.doJSON(ctx, http.MethodPost, "/v1/evaluations", sub, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) GetEvaluation(ctx context.Context, id string) (*model.Evaluation, error) {
	var e model.Evaluation
	if err := c.doJSON(ctx, http.MethodGet, "/v1/evaluations/"+url.PathEscape(id), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *HTTPClient) ListSessionEvaluations(ctx context.Context, sessionID string) ([]*model.Evaluation, error) {
	var resp struct {
		Evaluations []*model.Evaluation `json:"evaluations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(sessionID, "evaluations"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Evaluations, nil
}

func (c *HTTPClient) ListEvaluatorEvaluations(ctx context.Context, address string, limit int) (*evaluation.History, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var h evaluation.History
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/evaluators/"+url.PathEscape(address)+"/evaluations", q), nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// --- Sessions ---

func sessionPath(id, rest string) string {
	return "/v1/sessions/" + url.PathEscape(id) + "/" + rest
}

func (c *HTTPClient) Assessment(ctx context.Context, sessionID string) (*model.Assessment, error) {
	var a model.Assessment
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(sessionID, "assessment"), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *HTTPClient) Outcome(ctx context.Context, sessionID string) (*outcome.Summary, error) {
	var s outcome.Summary
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(sessionID, "outcome"), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) Finalize(ctx context.Context, sessionID string) (*server.FinalizeResult, error) {
	var res server.FinalizeResult
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(sessionID, "finalize"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// votingBody encodes d for the voting endpoints. Zero selects the server
// default.
func votingBody(d time.Duration) map[string]string {
	body := map[string]string{}
	if d != 0 {
		body["duration"] = d.String()
	}
	return body
}

func (c *HTTPClient) StartVoting(ctx context.Context, sessionID string, d time.Duration) (*period.Period, error) {
	var p period.Period
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(sessionID, "voting"), votingBody(d), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) ExtendVoting(ctx context.Context, sessionID string, d time.Duration) (*period.Period, error) {
	var p period.Period
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(sessionID, "voting/extend"), votingBody(d), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) VotingStatus(ctx context.Context, sessionID string) (*period.Period, error) {
	var p period.Period
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(sessionID, "voting"), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Queue ---

func (c *HTTPClient) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	var st model.QueueStats
	if err := c.doJSON(ctx, http.MethodGet, "/v1/queue/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) FailedEvents(ctx context.Context, limit int) ([]*model.EventQueueItem, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Items []*model.EventQueueItem `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/queue/failed", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *HTTPClient) RetryEvent(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/queue/"+url.PathEscape(id)+"/retry", nil, nil)
}

func (c *HTTPClient) PurgeCompleted(ctx context.Context, days int) (int64, error) {
	q := url.Values{}
	if days >= 0 {
		q.Set("days", strconv.Itoa(days))
	}
	var resp struct {
		Purged int64 `json:"purged"`
	}
	if err := c.doJSON(ctx, http.MethodPost, withQuery("/v1/queue/purge", q), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Purged, nil
}

// --- Watcher ---

func (c *HTTPClient) WatcherStatus(ctx context.Context) ([]watcher.Status, error) {
	var resp struct {
		Watchers []watcher.Status `json:"watchers"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/watcher/status", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Watchers, nil
}

func (c *HTTPClient) WatcherHealth(ctx context.Context) (*watcher.Health, error) {
	var h watcher.Health
	if err := c.doHealth(ctx, "/v1/watcher/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

type watchRequest struct {
	Contract  string   `json:"contract"`
	Events    []string `json:"events,omitempty"`
	FromBlock *uint64  `json:"from_block,omitempty"`
}

func (c *HTTPClient) Watch(ctx context.Context, contract string, events []string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/watcher/watch", watchRequest{Contract: contract, Events: events}, nil)
}

func (c *HTTPClient) Unwatch(ctx context.Context, contract string) (int, error) {
	var resp struct {
		Stopped int `json:"stopped"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/watcher/unwatch", watchRequest{Contract: contract}, &resp); err != nil {
		return 0, err
	}
	return resp.Stopped, nil
}

func (c *HTTPClient) Replay(ctx context.Context, contract string, fromBlock *uint64) (int, error) {
	var resp struct {
		Enqueued int `json:"enqueued"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/watcher/replay", watchRequest{Contract: contract, FromBlock: fromBlock}, &resp); err != nil {
		return 0, err
	}
	return resp.Enqueued, nil
}

func (c *HTTPClient) Checkpoints(ctx context.Context) ([]*model.EventCheckpoint, error) {
	var resp struct {
		Checkpoints []*model.EventCheckpoint `json:"checkpoints"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/checkpoints", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Checkpoints, nil
}

func (c *HTTPClient) Checkpoint(ctx context.Context, contract string) (*model.EventCheckpoint, error) {
	var cp model.EventCheckpoint
	if err := c.doJSON(ctx, http.MethodGet, "/v1/checkpoints/"+url.PathEscape(contract), nil, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// --- Event ledger ---

func filterQuery(f model.EventLogFilter) url.Values {
	q := url.Values{}
	if f.ContractAddress != "" {
		q.Set("contract", f.ContractAddress)
	}
	if f.EventName != "" {
		q.Set("event", f.EventName)
	}
	if f.Unresolved {
		q.Set("unresolved", "true")
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}

func (c *HTTPClient) EventLogs(ctx context.Context, f model.EventLogFilter) ([]*model.EventLogEntry, error) {
	var resp struct {
		Logs []*model.EventLogEntry `json:"logs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/events/logs", filterQuery(f)), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

func (c *HTTPClient) EventErrors(ctx context.Context, f model.EventLogFilter) ([]*model.EventError, error) {
	var resp struct {
		Errors []*model.EventError `json:"errors"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/events/errors", filterQuery(f)), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Errors, nil
}

func (c *HTTPClient) ErrorSummary(ctx context.Context, hours int) ([]*model.ErrorSummary, error) {
	q := url.Values{}
	if hours > 0 {
		q.Set("hours", strconv.Itoa(hours))
	}
	var resp struct {
		Summary []*model.ErrorSummary `json:"summary"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/events/errors/summary", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Summary, nil
}

func (c *HTTPClient) ResolveError(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/events/errors/"+strconv.FormatInt(id, 10)+"/resolve", nil, nil)
}

func (c *HTTPClient) EventsHealth(ctx context.Context) (*maintenance.Health, error) {
	var h maintenance.Health
	if err := c.doHealth(ctx, "/v1/events/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// --- Health ---

// Health returns the combined server health. An unhealthy server is not an
// error; inspect Status.Healthy.
func (c *HTTPClient) Health(ctx context.Context) (*server.Status, error) {
	var st server.Status
	if err := c.doHealth(ctx, "/v1/health", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// --- internal helpers ---

// APIError represents an error response from the server. Rejected
// evaluations also carry the individual errors and warnings.
type APIError struct {
	StatusCode int
	Message    string
	Errors     []string
	Warnings   []string
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, strings.Join(e.Errors, "; "))
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	return c.do(ctx, method, path, body, result, false)
}

// doHealth is a GET that also decodes 503 bodies, which health endpoints
// use to report an unhealthy state.
func (c *HTTPClient) doHealth(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result, true)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, result any, acceptUnavailable bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error    string   `json:"error"`
			Errors   []string `json:"errors"`
			Warnings []string `json:"warnings"`
		}
		parsed := json.Unmarshal(respBody, &errResp) == nil
		switch {
		case parsed && (errResp.Error != "" || len(errResp.Errors) > 0):
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Errors: errResp.Errors, Warnings: errResp.Warnings}
		case acceptUnavailable && resp.StatusCode == http.StatusServiceUnavailable:
			// An unhealthy report; decoded below.
		default:
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
