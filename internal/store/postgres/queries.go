package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store"
)

// sessionColumns is the column list used for SELECT statements on the sessions table.
const sessionColumns = `id, session_address, topic, description, initiator_address,
	challenger_address, wager_amount, status, start_time, voting_start_time,
	voting_end_time, end_time, winner_address, initiator_votes, challenger_votes,
	metadata, created_at, updated_at`

// evaluationColumns is the column list used for SELECT statements on the evaluations table.
const evaluationColumns = `id, session_id, evaluator_address, vote, weight,
	confidence, reasoning, quality_score, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// mapUniqueViolation turns a pq unique violation into store.ErrDuplicate.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pqErr.Constraint)
	}
	return err
}

// --- Sessions ---

func queryCreateSession(ctx context.Context, db executor, s *model.Session) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, session_address, topic, description, initiator_address,
			challenger_address, wager_amount, status, start_time, voting_start_time,
			voting_end_time, end_time, winner_address, initiator_votes, challenger_votes,
			metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18
		)
		ON CONFLICT (session_address) DO NOTHING`,
		s.ID,
		s.Address,
		s.Topic,
		nullString(s.Description),
		s.InitiatorAddress,
		nullString(s.ChallengerAddress),
		s.WagerAmount,
		string(s.Status),
		nullTimePtr(s.StartTime),
		nullTimePtr(s.VotingStartTime),
		nullTimePtr(s.VotingEndTime),
		nullTimePtr(s.EndTime),
		nullString(s.WinnerAddress),
		s.InitiatorVotes,
		s.ChallengerVotes,
		jsonbBytes(s.Metadata),
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s", store.ErrDuplicate, s.Address)
	}
	return nil
}

func queryGetSession(ctx context.Context, db executor, id string) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func queryGetSessionByAddress(ctx context.Context, db executor, address string) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_address = $1`, address)
	return scanSession(row)
}

func queryUpdateSessionIfStatus(ctx context.Context, db executor, s *model.Session, expected model.SessionStatus) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE sessions SET
			topic = $2,
			description = $3,
			challenger_address = $4,
			wager_amount = $5,
			status = $6,
			start_time = $7,
			voting_start_time = $8,
			voting_end_time = $9,
			end_time = $10,
			winner_address = $11,
			initiator_votes = $12,
			challenger_votes = $13,
			metadata = $14,
			updated_at = $15
		WHERE id = $1 AND status = $16`,
		s.ID,
		s.Topic,
		nullString(s.Description),
		nullString(s.ChallengerAddress),
		s.WagerAmount,
		string(s.Status),
		nullTimePtr(s.StartTime),
		nullTimePtr(s.VotingStartTime),
		nullTimePtr(s.VotingEndTime),
		nullTimePtr(s.EndTime),
		nullString(s.WinnerAddress),
		s.InitiatorVotes,
		s.ChallengerVotes,
		jsonbBytes(s.Metadata),
		s.UpdatedAt,
		string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func queryListExpiredVotingSessions(ctx context.Context, db executor, now time.Time) ([]*model.Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'voting' AND voting_end_time < $1
		ORDER BY voting_end_time ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	return scanAll(rows, scanSession)
}

func queryListFinalizedSessions(ctx context.Context, db executor, since time.Time) ([]*model.Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status IN ('completed', 'cancelled') AND updated_at >= $1
		ORDER BY updated_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("list finalized sessions: %w", err)
	}
	return scanAll(rows, scanSession)
}

func queryAddParticipant(ctx context.Context, db executor, sessionID, address string, role model.ParticipantRole) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO session_participants (session_id, user_address, role)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		sessionID, address, string(role),
	)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// --- Evaluations ---

func queryCreateEvaluation(ctx context.Context, db executor, e *model.Evaluation) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO evaluations (
			id, session_id, evaluator_address, vote, weight,
			confidence, reasoning, quality_score, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, evaluator_address) DO NOTHING`,
		e.ID,
		e.SessionID,
		e.EvaluatorAddress,
		e.Vote,
		e.Weight,
		e.Confidence,
		e.Reasoning,
		e.QualityScore,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create evaluation: %w", mapUniqueViolation(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: evaluation by %s", store.ErrDuplicate, e.EvaluatorAddress)
	}
	return nil
}

func queryGetEvaluation(ctx context.Context, db executor, id string) (*model.Evaluation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE id = $1`, id)
	return scanEvaluation(row)
}

func queryHasEvaluation(ctx context.Context, db executor, sessionID, evaluator string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM evaluations WHERE session_id = $1 AND evaluator_address = $2
		)`, sessionID, evaluator).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check evaluation: %w", err)
	}
	return exists, nil
}

func queryListEvaluations(ctx context.Context, db executor, sessionID string) ([]*model.Evaluation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+evaluationColumns+` FROM evaluations
		WHERE session_id = $1
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return scanAll(rows, scanEvaluation)
}

func queryListEvaluationsByEvaluator(ctx context.Context, db executor, evaluator string, limit int) ([]*model.Evaluation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+evaluationColumns+` FROM evaluations
		WHERE evaluator_address = $1
		ORDER BY created_at DESC
		LIMIT $2`, evaluator, limit)
	if err != nil {
		return nil, fmt.Errorf("list evaluator evaluations: %w", err)
	}
	return scanAll(rows, scanEvaluation)
}

func queryCountEvaluations(ctx context.Context, db executor, sessionID string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evaluations WHERE session_id = $1`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count evaluations: %w", err)
	}
	return n, nil
}

func queryCountEvaluationsSince(ctx context.Context, db executor, evaluator string, since time.Time) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM evaluations
		WHERE evaluator_address = $1 AND created_at > $2`, evaluator, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent evaluations: %w", err)
	}
	return n, nil
}

// queryGetEvaluatorProfile derives an evaluator's profile from the
// credibility ledger and their votes on completed sessions.
func queryGetEvaluatorProfile(ctx context.Context, db executor, evaluator string) (*model.EvaluatorProfile, error) {
	p := &model.EvaluatorProfile{Address: evaluator}
	err := db.QueryRowContext(ctx, `
		SELECT
			COALESCE(
				(SELECT SUM(points) FROM credibility_events WHERE user_address = $1),
				$2
			)::float8,
			COALESCE(
				(SELECT COUNT(*) FILTER (WHERE was_correct)::float8 / NULLIF(COUNT(*), 0) * 100
				 FROM (
					SELECT CASE
						WHEN s.winner_address = s.initiator_address THEN e.vote
						WHEN s.winner_address = s.challenger_address THEN NOT e.vote
					END AS was_correct
					FROM evaluations e
					JOIN sessions s ON s.id = e.session_id
					WHERE e.evaluator_address = $1 AND s.status = 'completed'
				 ) accuracy
				 WHERE was_correct IS NOT NULL),
				$3
			)::float8,
			(SELECT COUNT(*) FROM evaluations WHERE evaluator_address = $1),
			EXISTS (
				SELECT 1 FROM evaluations
				WHERE evaluator_address = $1 AND created_at > NOW() - INTERVAL '30 days'
			)`,
		evaluator, model.DefaultCredibilityScore, model.DefaultAccuracy,
	).Scan(&p.CredibilityScore, &p.Accuracy, &p.TotalEvaluations, &p.RecentActivity)
	if err != nil {
		return nil, fmt.Errorf("get evaluator profile: %w", err)
	}
	return p, nil
}

// --- Credibility ledger and achievements ---

func queryAddCredibilityEvent(ctx context.Context, db executor, e *model.CredibilityEvent) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO credibility_events (user_address, event_type, session_id, points, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		e.UserAddress,
		e.EventType,
		nullString(e.SessionID),
		e.Points,
		jsonbBytes(e.Metadata),
	)
	if err != nil {
		return fmt.Errorf("add credibility event: %w", err)
	}
	return nil
}

func queryUpsertAchievement(ctx context.Context, db executor, a *model.Achievement) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO achievements (user_address, achievement_type, token_id, transaction_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_address, achievement_type) DO UPDATE SET
			token_id = EXCLUDED.token_id,
			transaction_hash = EXCLUDED.transaction_hash`,
		a.UserAddress,
		a.AchievementType,
		nullString(a.TokenID),
		nullString(a.TransactionHash),
	)
	if err != nil {
		return fmt.Errorf("upsert achievement: %w", err)
	}
	return nil
}
