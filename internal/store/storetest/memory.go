// Package storetest provides an in-memory store.Store for service tests.
package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store"
)

// Memory is an in-memory store.Store. RunInTransaction serializes
// transactions and restores a snapshot when fn fails.
type Memory struct {
	mu   sync.Mutex
	txMu sync.Mutex
	st   state

	// Errs injects failures by method name, e.g. Errs["EnqueueEvent"].
	Errs map[string]error
}

type state struct {
	sessions     map[string]*model.Session
	participants map[string]map[string]model.ParticipantRole
	evaluations  []*model.Evaluation
	credibility  []*model.CredibilityEvent
	achievements map[string]*model.Achievement
	queue        map[string]*model.EventQueueItem
	checkpoints  map[string]*model.EventCheckpoint
	logs         []*model.EventLogEntry
	errors       []*model.EventError
	nextID       int64
}

var _ store.Store = (*Memory)(nil)

// New returns an empty store.
func New() *Memory {
	return &Memory{
		st: state{
			sessions:     make(map[string]*model.Session),
			participants: make(map[string]map[string]model.ParticipantRole),
			achievements: make(map[string]*model.Achievement),
			queue:        make(map[string]*model.EventQueueItem),
			checkpoints:  make(map[string]*model.EventCheckpoint),
		},
		Errs: make(map[string]error),
	}
}

func (m *Memory) fail(method string) error {
	if err, ok := m.Errs[method]; ok {
		return err
	}
	return nil
}

func (s state) clone() state {
	c := state{
		sessions:     make(map[string]*model.Session, len(s.sessions)),
		participants: make(map[string]map[string]model.ParticipantRole, len(s.participants)),
		evaluations:  make([]*model.Evaluation, 0, len(s.evaluations)),
		credibility:  append([]*model.CredibilityEvent(nil), s.credibility...),
		achievements: make(map[string]*model.Achievement, len(s.achievements)),
		queue:        make(map[string]*model.EventQueueItem, len(s.queue)),
		checkpoints:  make(map[string]*model.EventCheckpoint, len(s.checkpoints)),
		logs:         append([]*model.EventLogEntry(nil), s.logs...),
		errors:       make([]*model.EventError, 0, len(s.errors)),
		nextID:       s.nextID,
	}
	for k, v := range s.sessions {
		c.sessions[k] = copySession(v)
	}
	for k, v := range s.participants {
		roles := make(map[string]model.ParticipantRole, len(v))
		for a, r := range v {
			roles[a] = r
		}
		c.participants[k] = roles
	}
	for _, e := range s.evaluations {
		cp := *e
		c.evaluations = append(c.evaluations, &cp)
	}
	for k, v := range s.achievements {
		cp := *v
		c.achievements[k] = &cp
	}
	for k, v := range s.queue {
		cp := *v
		c.queue[k] = &cp
	}
	for k, v := range s.checkpoints {
		cp := *v
		c.checkpoints[k] = &cp
	}
	for _, e := range s.errors {
		cp := *e
		c.errors = append(c.errors, &cp)
	}
	return c
}

func copySession(s *model.Session) *model.Session {
	cp := *s
	if s.Metadata != nil {
		cp.Metadata = append([]byte(nil), s.Metadata...)
	}
	return &cp
}

// --- Sessions ---

func (m *Memory) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateSession"); err != nil {
		return err
	}
	for _, existing := range m.st.sessions {
		if existing.Address == s.Address {
			return fmt.Errorf("%w: session %s", store.ErrDuplicate, s.Address)
		}
	}
	m.st.sessions[s.ID] = copySession(s)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetSession"); err != nil {
		return nil, err
	}
	s, ok := m.st.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copySession(s), nil
}

func (m *Memory) GetSessionByAddress(_ context.Context, address string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.st.sessions {
		if s.Address == address {
			return copySession(s), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *Memory) UpdateSessionIfStatus(_ context.Context, s *model.Session, expected model.SessionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateSessionIfStatus"); err != nil {
		return false, err
	}
	cur, ok := m.st.sessions[s.ID]
	if !ok || cur.Status != expected {
		return false, nil
	}
	updated := copySession(s)
	updated.Address = cur.Address
	updated.InitiatorAddress = cur.InitiatorAddress
	updated.CreatedAt = cur.CreatedAt
	if updated.UpdatedAt.IsZero() {
		updated.UpdatedAt = time.Now().UTC()
	}
	m.st.sessions[s.ID] = updated
	return true, nil
}

func (m *Memory) ListExpiredVotingSessions(_ context.Context, now time.Time) ([]*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListExpiredVotingSessions"); err != nil {
		return nil, err
	}
	var out []*model.Session
	for _, s := range m.st.sessions {
		if s.Status == model.SessionVoting && s.VotingEndTime != nil && s.VotingEndTime.Before(now) {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VotingEndTime.Before(*out[j].VotingEndTime) })
	return out, nil
}

func (m *Memory) ListFinalizedSessions(_ context.Context, since time.Time) ([]*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListFinalizedSessions"); err != nil {
		return nil, err
	}
	var out []*model.Session
	for _, s := range m.st.sessions {
		if s.Status.IsTerminal() && !s.UpdatedAt.Before(since) {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) AddParticipant(_ context.Context, sessionID, address string, role model.ParticipantRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AddParticipant"); err != nil {
		return err
	}
	roles, ok := m.st.participants[sessionID]
	if !ok {
		roles = make(map[string]model.ParticipantRole)
		m.st.participants[sessionID] = roles
	}
	if _, exists := roles[address]; !exists {
		roles[address] = role
	}
	return nil
}

// Participants returns the roles recorded for a session.
func (m *Memory) Participants(sessionID string) map[string]model.ParticipantRole {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.ParticipantRole)
	for a, r := range m.st.participants[sessionID] {
		out[a] = r
	}
	return out
}

// --- Evaluations ---

func (m *Memory) CreateEvaluation(_ context.Context, e *model.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateEvaluation"); err != nil {
		return err
	}
	for _, existing := range m.st.evaluations {
		if existing.SessionID == e.SessionID && existing.EvaluatorAddress == e.EvaluatorAddress {
			return fmt.Errorf("%w: evaluation by %s", store.ErrDuplicate, e.EvaluatorAddress)
		}
	}
	cp := *e
	m.st.evaluations = append(m.st.evaluations, &cp)
	return nil
}

func (m *Memory) GetEvaluation(_ context.Context, id string) (*model.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.st.evaluations {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *Memory) HasEvaluation(_ context.Context, sessionID, evaluator string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("HasEvaluation"); err != nil {
		return false, err
	}
	for _, e := range m.st.evaluations {
		if e.SessionID == sessionID && e.EvaluatorAddress == evaluator {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListEvaluations(_ context.Context, sessionID string) ([]*model.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListEvaluations"); err != nil {
		return nil, err
	}
	var out []*model.Evaluation
	for _, e := range m.st.evaluations {
		if e.SessionID == sessionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListEvaluationsByEvaluator(_ context.Context, evaluator string, limit int) ([]*model.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Evaluation
	for _, e := range m.st.evaluations {
		if e.EvaluatorAddress == evaluator {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountEvaluations(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CountEvaluations"); err != nil {
		return 0, err
	}
	n := 0
	for _, e := range m.st.evaluations {
		if e.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountEvaluationsSince(_ context.Context, evaluator string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.st.evaluations {
		if e.EvaluatorAddress == evaluator && e.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetEvaluatorProfile(_ context.Context, evaluator string) (*model.EvaluatorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetEvaluatorProfile"); err != nil {
		return nil, err
	}
	p := &model.EvaluatorProfile{
		Address:          evaluator,
		CredibilityScore: model.DefaultCredibilityScore,
		Accuracy:         model.DefaultAccuracy,
	}

	var points int64
	var hasPoints bool
	for _, c := range m.st.credibility {
		if c.UserAddress == evaluator {
			points += c.Points
			hasPoints = true
		}
	}
	if hasPoints {
		p.CredibilityScore = float64(points)
	}

	var correct, judged int
	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	for _, e := range m.st.evaluations {
		if e.EvaluatorAddress != evaluator {
			continue
		}
		p.TotalEvaluations++
		if e.CreatedAt.After(cutoff) {
			p.RecentActivity = true
		}
		s, ok := m.st.sessions[e.SessionID]
		if !ok || s.Status != model.SessionCompleted || s.WinnerAddress == "" {
			continue
		}
		switch s.WinnerAddress {
		case s.InitiatorAddress:
			judged++
			if e.Vote {
				correct++
			}
		case s.ChallengerAddress:
			judged++
			if !e.Vote {
				correct++
			}
		}
	}
	if judged > 0 {
		p.Accuracy = float64(correct) / float64(judged) * 100
	}
	return p, nil
}

// SetEvaluations stores evaluations as is, for test setup.
func (m *Memory) SetEvaluations(evals ...*model.Evaluation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range evals {
		cp := *e
		m.st.evaluations = append(m.st.evaluations, &cp)
	}
}

// --- Credibility and achievements ---

func (m *Memory) AddCredibilityEvent(_ context.Context, e *model.CredibilityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AddCredibilityEvent"); err != nil {
		return err
	}
	m.st.nextID++
	cp := *e
	cp.ID = m.st.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.st.credibility = append(m.st.credibility, &cp)
	return nil
}

// CredibilityEvents returns every recorded credibility event.
func (m *Memory) CredibilityEvents() []*model.CredibilityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.CredibilityEvent(nil), m.st.credibility...)
}

func (m *Memory) UpsertAchievement(_ context.Context, a *model.Achievement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertAchievement"); err != nil {
		return err
	}
	cp := *a
	m.st.achievements[a.UserAddress+"/"+a.AchievementType] = &cp
	return nil
}

// Achievements returns every stored achievement.
func (m *Memory) Achievements() []*model.Achievement {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Achievement
	for _, a := range m.st.achievements {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// --- Event queue ---

func (m *Memory) EnqueueEvent(_ context.Context, item *model.EventQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("EnqueueEvent"); err != nil {
		return err
	}
	now := time.Now().UTC()
	cp := *item
	cp.Status = model.QueuePending
	if cp.MaxRetries <= 0 {
		cp.MaxRetries = model.DefaultMaxRetries
	}
	if cp.ScheduledFor.IsZero() {
		cp.ScheduledFor = now
	}
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.st.queue[cp.ID] = &cp
	item.Status, item.MaxRetries, item.ScheduledFor = cp.Status, cp.MaxRetries, cp.ScheduledFor
	return nil
}

func (m *Memory) ClaimNextEvent(_ context.Context) (*model.EventQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ClaimNextEvent"); err != nil {
		return nil, err
	}
	now := time.Now()
	var best *model.EventQueueItem
	for _, q := range m.st.queue {
		if q.Status != model.QueuePending || q.ScheduledFor.After(now) {
			continue
		}
		if best == nil || q.Priority > best.Priority ||
			(q.Priority == best.Priority && q.CreatedAt.Before(best.CreatedAt)) ||
			(q.Priority == best.Priority && q.CreatedAt.Equal(best.CreatedAt) && q.ID < best.ID) {
			best = q
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = model.QueueProcessing
	best.UpdatedAt = now.UTC()
	cp := *best
	return &cp, nil
}

func (m *Memory) CompleteEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CompleteEvent"); err != nil {
		return err
	}
	q, ok := m.st.queue[id]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	q.Status = model.QueueCompleted
	q.ErrorMessage = ""
	q.ProcessedAt = &now
	q.UpdatedAt = now
	return nil
}

func (m *Memory) FailEvent(_ context.Context, id, message string, maxBackoff time.Duration) (*model.EventQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FailEvent"); err != nil {
		return nil, err
	}
	q, ok := m.st.queue[id]
	if !ok || q.Status != model.QueueProcessing {
		return nil, fmt.Errorf("fail event: %w", sql.ErrNoRows)
	}
	now := time.Now().UTC()
	q.RetryCount++
	q.ErrorMessage = message
	q.UpdatedAt = now
	if q.RetryCount >= q.MaxRetries {
		q.Status = model.QueueFailed
	} else {
		q.Status = model.QueuePending
		backoff := time.Duration(math.Pow(2, float64(q.RetryCount))) * time.Minute
		if maxBackoff > 0 && backoff > maxBackoff {
			backoff = maxBackoff
		}
		q.ScheduledFor = now.Add(backoff)
	}
	cp := *q
	return &cp, nil
}

func (m *Memory) GetQueueItem(_ context.Context, id string) (*model.EventQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.st.queue[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *q
	return &cp, nil
}

// QueueItems returns every queue item ordered by creation.
func (m *Memory) QueueItems() []*model.EventQueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.EventQueueItem
	for _, q := range m.st.queue {
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SetQueueItem stores item as is, for test setup.
func (m *Memory) SetQueueItem(item *model.EventQueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.st.queue[item.ID] = &cp
}

func (m *Memory) ListFailedEvents(_ context.Context, limit int) ([]*model.EventQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListFailedEvents"); err != nil {
		return nil, err
	}
	var out []*model.EventQueueItem
	for _, q := range m.st.queue {
		if q.Status == model.QueueFailed {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) RetryFailedEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.st.queue[id]
	if !ok || q.Status != model.QueueFailed {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	q.Status = model.QueuePending
	q.RetryCount = 0
	q.ErrorMessage = ""
	q.ScheduledFor = now
	q.UpdatedAt = now
	return nil
}

func (m *Memory) PurgeCompletedEvents(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("PurgeCompletedEvents"); err != nil {
		return 0, err
	}
	var n int64
	for id, q := range m.st.queue {
		if q.Status == model.QueueCompleted && q.ProcessedAt != nil && q.ProcessedAt.Before(before) {
			delete(m.st.queue, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) ResetStuckEvents(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ResetStuckEvents"); err != nil {
		return 0, err
	}
	var n int64
	for _, q := range m.st.queue {
		if q.Status == model.QueueProcessing && q.UpdatedAt.Before(before) {
			q.Status = model.QueuePending
			q.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (m *Memory) QueueStats(_ context.Context) (*model.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("QueueStats"); err != nil {
		return nil, err
	}
	var st model.QueueStats
	var oldest time.Time
	for _, q := range m.st.queue {
		st.Total++
		switch q.Status {
		case model.QueuePending:
			st.Pending++
			if oldest.IsZero() || q.CreatedAt.Before(oldest) {
				oldest = q.CreatedAt
			}
		case model.QueueProcessing:
			st.Processing++
		case model.QueueCompleted:
			st.Completed++
		case model.QueueFailed:
			st.Failed++
		}
	}
	if !oldest.IsZero() {
		st.OldestPendingSecs = time.Since(oldest).Seconds()
	}
	return &st, nil
}

// --- Checkpoints ---

func (m *Memory) GetCheckpoint(_ context.Context, contract string) (*model.EventCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetCheckpoint"); err != nil {
		return nil, err
	}
	c, ok := m.st.checkpoints[contract]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) CreateCheckpoint(_ context.Context, contract string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateCheckpoint"); err != nil {
		return err
	}
	if _, ok := m.st.checkpoints[contract]; ok {
		return nil
	}
	m.st.checkpoints[contract] = &model.EventCheckpoint{
		ContractAddress:    contract,
		LastProcessedBlock: block,
		LastUpdated:        time.Now().UTC(),
	}
	return nil
}

func (m *Memory) AdvanceCheckpoint(_ context.Context, contract string, block uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AdvanceCheckpoint"); err != nil {
		return false, err
	}
	c, ok := m.st.checkpoints[contract]
	if !ok || block < c.LastProcessedBlock {
		return false, nil
	}
	c.LastProcessedBlock = block
	c.LastUpdated = time.Now().UTC()
	return true, nil
}

func (m *Memory) ListCheckpoints(_ context.Context) ([]*model.EventCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListCheckpoints"); err != nil {
		return nil, err
	}
	var out []*model.EventCheckpoint
	for _, c := range m.st.checkpoints {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContractAddress < out[j].ContractAddress })
	return out, nil
}

// --- Event audit ---

func (m *Memory) HasEventLog(_ context.Context, txHash string, logIndex int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("HasEventLog"); err != nil {
		return false, err
	}
	for _, l := range m.st.logs {
		if l.TransactionHash == txHash && l.LogIndex == logIndex {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) RecordEventLog(_ context.Context, entry *model.EventLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("RecordEventLog"); err != nil {
		return err
	}
	for _, l := range m.st.logs {
		if l.TransactionHash == entry.TransactionHash && l.LogIndex == entry.LogIndex {
			return fmt.Errorf("record event log: %w", store.ErrDuplicate)
		}
	}
	m.st.nextID++
	entry.ID = m.st.nextID
	entry.ProcessedAt = time.Now().UTC()
	cp := *entry
	m.st.logs = append(m.st.logs, &cp)
	return nil
}

func (m *Memory) RecordEventError(_ context.Context, e *model.EventError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("RecordEventError"); err != nil {
		return err
	}
	m.st.nextID++
	e.ID = m.st.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := *e
	m.st.errors = append(m.st.errors, &cp)
	return nil
}

func matchFilter(f model.EventLogFilter, contract, event string) bool {
	if f.ContractAddress != "" && !strings.EqualFold(f.ContractAddress, contract) {
		return false
	}
	return f.EventName == "" || f.EventName == event
}

func page[T any](items []T, f model.EventLogFilter) []T {
	if f.Offset > 0 {
		if f.Offset >= len(items) {
			return nil
		}
		items = items[f.Offset:]
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (m *Memory) ListEventLogs(_ context.Context, f model.EventLogFilter) ([]*model.EventLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListEventLogs"); err != nil {
		return nil, err
	}
	var out []*model.EventLogEntry
	for i := len(m.st.logs) - 1; i >= 0; i-- {
		l := m.st.logs[i]
		if matchFilter(f, l.ContractAddress, l.EventName) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return page(out, f), nil
}

func (m *Memory) ListEventErrors(_ context.Context, f model.EventLogFilter) ([]*model.EventError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListEventErrors"); err != nil {
		return nil, err
	}
	var out []*model.EventError
	for i := len(m.st.errors) - 1; i >= 0; i-- {
		e := m.st.errors[i]
		if !matchFilter(f, e.ContractAddress, e.EventName) {
			continue
		}
		if f.Unresolved && e.ResolvedAt != nil {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return page(out, f), nil
}

func (m *Memory) ResolveEventError(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.st.errors {
		if e.ID == id && e.ResolvedAt == nil {
			now := time.Now().UTC()
			e.ResolvedAt = &now
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *Memory) SummarizeEventErrors(_ context.Context, since time.Time) ([]*model.ErrorSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SummarizeEventErrors"); err != nil {
		return nil, err
	}
	byName := make(map[string]*model.ErrorSummary)
	for _, e := range m.st.errors {
		if e.ResolvedAt != nil || !e.CreatedAt.After(since) {
			continue
		}
		s, ok := byName[e.EventName]
		if !ok {
			s = &model.ErrorSummary{EventName: e.EventName}
			byName[e.EventName] = s
		}
		s.Count++
		if e.CreatedAt.After(s.LastSeen) {
			s.LastSeen = e.CreatedAt
		}
	}
	out := make([]*model.ErrorSummary, 0, len(byName))
	for _, s := range byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].EventName < out[j].EventName
		}
		return out[i].Count > out[j].Count
	})
	return out, nil
}

// --- Transactions ---

func (m *Memory) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.st.clone()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) Close() error { return nil }
