// Package repository provides PostgreSQL persistence for provider candidates
// and call attempts.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vetline_backend/internal/calls/domain"
	"vetline_backend/platform/apperr"
)

const (
	candidateNotFoundMessage = "provider candidate not found"
	attemptNotFoundMessage   = "call attempt not found"
)

// terminalList is the SQL fragment enumerating terminal call statuses.
const terminalList = `('completed','failed','no_answer','voicemail','busy','timeout')`

// Candidate is one researched provider, owned by exactly one service request.
type Candidate struct {
	ID          uuid.UUID
	RequestID   uuid.UUID
	Name        string
	Phone       string
	Rating      float64
	ReviewCount int
	Source      string
	CreatedAt   time.Time
}

// Attempt is one outbound call against one candidate.
type Attempt struct {
	ID              uuid.UUID
	RequestID       uuid.UUID
	CandidateID     uuid.UUID
	Phase           domain.Phase
	Backend         *domain.BackendKind
	PlatformCallID  *string
	Status          domain.CallStatus
	StartedAt       *time.Time
	EndedAt         *time.Time
	Transcript      *string
	Outcome         *domain.StructuredOutcome
	CostCents       int64
	DurationSeconds int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TerminalOutcome pairs a terminal attempt with its candidate for scoring.
type TerminalOutcome struct {
	Candidate Candidate
	Attempt   Attempt
}

// Repository is the persistence interface for candidates and attempts.
type Repository interface {
	CreateCandidates(ctx context.Context, candidates []Candidate) error
	GetCandidate(ctx context.Context, id uuid.UUID) (Candidate, error)
	ListCandidates(ctx context.Context, requestID uuid.UUID) ([]Candidate, error)

	CreateAttempt(ctx context.Context, attempt Attempt) (Attempt, error)
	GetAttempt(ctx context.Context, id uuid.UUID) (Attempt, error)
	GetAttemptByPlatformCallID(ctx context.Context, platformCallID string) (Attempt, error)
	ListAttempts(ctx context.Context, requestID uuid.UUID, phase domain.Phase) ([]Attempt, error)
	ListTerminalOutcomes(ctx context.Context, requestID uuid.UUID) ([]TerminalOutcome, error)

	// SetPlacement records the backend and platform call id once the call has
	// been handed to a backend, moving the attempt out of queued.
	SetPlacement(ctx context.Context, attemptID uuid.UUID, backend domain.BackendKind, platformCallID string) error

	// ApplyOutcome writes a terminal outcome if and only if the attempt is not
	// already terminal. Returns false when the write was a no-op, which is how
	// duplicate and out-of-order updates are absorbed.
	ApplyOutcome(ctx context.Context, attemptID uuid.UUID, outcome domain.Outcome) (bool, error)

	// EnrichAttempt fills append-only fields (cost, transcript) that may
	// arrive after the terminal status. It never touches status.
	EnrichAttempt(ctx context.Context, attemptID uuid.UUID, costCents int64, transcript string) error

	CountNonTerminal(ctx context.Context, requestID uuid.UUID, phase domain.Phase) (int, error)

	// ForceTimeout marks every non-terminal attempt of the batch as timeout.
	// Returns the number of attempts terminalized.
	ForceTimeout(ctx context.Context, requestID uuid.UUID, phase domain.Phase) (int, error)
}

// Repo implements Repository with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new calls repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

// CreateCandidates persists the batch's candidates before any call is placed.
// Durable identifiers are assigned here; the completion webhook resolves
// against them.
func (r *Repo) CreateCandidates(ctx context.Context, candidates []Candidate) error {
	batch := &pgx.Batch{}
	for i := range candidates {
		c := &candidates[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO provider_candidates (id, request_id, name, phone, rating, review_count, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, c.RequestID, c.Name, c.Phone, c.Rating, c.ReviewCount, c.Source,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range candidates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("create provider candidates: %w", err)
		}
	}
	return nil
}

// GetCandidate retrieves a candidate by ID.
func (r *Repo) GetCandidate(ctx context.Context, id uuid.UUID) (Candidate, error) {
	query := `SELECT id, request_id, name, phone, rating, review_count, source, created_at
		FROM provider_candidates WHERE id = $1`

	var c Candidate
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.RequestID, &c.Name, &c.Phone, &c.Rating, &c.ReviewCount, &c.Source, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Candidate{}, apperr.NotFound(candidateNotFoundMessage)
		}
		return Candidate{}, fmt.Errorf("get candidate: %w", err)
	}
	return c, nil
}

// ListCandidates retrieves all candidates for a request.
func (r *Repo) ListCandidates(ctx context.Context, requestID uuid.UUID) ([]Candidate, error) {
	query := `SELECT id, request_id, name, phone, rating, review_count, source, created_at
		FROM provider_candidates WHERE request_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.RequestID, &c.Name, &c.Phone, &c.Rating, &c.ReviewCount, &c.Source, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const attemptColumns = `id, request_id, candidate_id, phase, backend, platform_call_id, status,
		started_at, ended_at, transcript, outcome, cost_cents, duration_seconds, created_at, updated_at`

// CreateAttempt persists a new queued call attempt.
func (r *Repo) CreateAttempt(ctx context.Context, attempt Attempt) (Attempt, error) {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.Status == "" {
		attempt.Status = domain.CallQueued
	}

	query := `
		INSERT INTO call_attempts (id, request_id, candidate_id, phase, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + attemptColumns

	created, err := scanAttempt(r.pool.QueryRow(ctx, query,
		attempt.ID, attempt.RequestID, attempt.CandidateID, attempt.Phase, attempt.Status,
	))
	if err != nil {
		return Attempt{}, fmt.Errorf("create call attempt: %w", err)
	}
	return created, nil
}

// GetAttempt retrieves an attempt by ID.
func (r *Repo) GetAttempt(ctx context.Context, id uuid.UUID) (Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM call_attempts WHERE id = $1`

	attempt, err := scanAttempt(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, apperr.NotFound(attemptNotFoundMessage)
		}
		return Attempt{}, fmt.Errorf("get call attempt: %w", err)
	}
	return attempt, nil
}

// GetAttemptByPlatformCallID resolves the attempt an inbound notification refers to.
func (r *Repo) GetAttemptByPlatformCallID(ctx context.Context, platformCallID string) (Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM call_attempts WHERE platform_call_id = $1`

	attempt, err := scanAttempt(r.pool.QueryRow(ctx, query, platformCallID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, apperr.NotFound(attemptNotFoundMessage)
		}
		return Attempt{}, fmt.Errorf("get call attempt by platform call id: %w", err)
	}
	return attempt, nil
}

// ListAttempts retrieves all attempts for a request and phase.
func (r *Repo) ListAttempts(ctx context.Context, requestID uuid.UUID, phase domain.Phase) ([]Attempt, error) {
	query := `SELECT ` + attemptColumns + `
		FROM call_attempts WHERE request_id = $1 AND phase = $2 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, requestID, phase)
	if err != nil {
		return nil, fmt.Errorf("list call attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call attempt: %w", err)
		}
		out = append(out, attempt)
	}
	return out, rows.Err()
}

// ListTerminalOutcomes returns terminal vetting attempts joined with their candidates.
func (r *Repo) ListTerminalOutcomes(ctx context.Context, requestID uuid.UUID) ([]TerminalOutcome, error) {
	query := `
		SELECT c.id, c.request_id, c.name, c.phone, c.rating, c.review_count, c.source, c.created_at,
		       a.id, a.request_id, a.candidate_id, a.phase, a.backend, a.platform_call_id, a.status,
		       a.started_at, a.ended_at, a.transcript, a.outcome, a.cost_cents, a.duration_seconds,
		       a.created_at, a.updated_at
		FROM call_attempts a
		JOIN provider_candidates c ON c.id = a.candidate_id
		WHERE a.request_id = $1 AND a.phase = 'vetting' AND a.status IN ` + terminalList + `
		ORDER BY c.created_at`

	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list terminal outcomes: %w", err)
	}
	defer rows.Close()

	var out []TerminalOutcome
	for rows.Next() {
		var to TerminalOutcome
		c := &to.Candidate
		a := &to.Attempt
		err := rows.Scan(
			&c.ID, &c.RequestID, &c.Name, &c.Phone, &c.Rating, &c.ReviewCount, &c.Source, &c.CreatedAt,
			&a.ID, &a.RequestID, &a.CandidateID, &a.Phase, &a.Backend, &a.PlatformCallID, &a.Status,
			&a.StartedAt, &a.EndedAt, &a.Transcript, &a.Outcome, &a.CostCents, &a.DurationSeconds,
			&a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan terminal outcome: %w", err)
		}
		out = append(out, to)
	}
	return out, rows.Err()
}

// SetPlacement records the backend and the platform's call identifier.
func (r *Repo) SetPlacement(ctx context.Context, attemptID uuid.UUID, backend domain.BackendKind, platformCallID string) error {
	query := `
		UPDATE call_attempts
		SET backend = $1, platform_call_id = $2, status = 'ringing', started_at = now(), updated_at = now()
		WHERE id = $3 AND status = 'queued'`

	tag, err := r.pool.Exec(ctx, query, backend, platformCallID, attemptID)
	if err != nil {
		return fmt.Errorf("set call placement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// A webhook can land before placement bookkeeping; record the call id
		// without disturbing whatever status it set.
		_, err = r.pool.Exec(ctx,
			`UPDATE call_attempts SET backend = $1, platform_call_id = $2, updated_at = now()
			 WHERE id = $3 AND platform_call_id IS NULL`,
			backend, platformCallID, attemptID,
		)
		if err != nil {
			return fmt.Errorf("set call placement (late): %w", err)
		}
	}
	return nil
}

// ApplyOutcome writes a terminal outcome with compare-and-set semantics.
func (r *Repo) ApplyOutcome(ctx context.Context, attemptID uuid.UUID, outcome domain.Outcome) (bool, error) {
	if !outcome.Status.IsTerminal() {
		// Non-terminal progress updates only ever move queued/ringing forward.
		query := `
			UPDATE call_attempts
			SET status = $1, updated_at = now()
			WHERE id = $2 AND status IN ('queued','ringing') AND status <> $1`
		tag, err := r.pool.Exec(ctx, query, outcome.Status, attemptID)
		if err != nil {
			return false, fmt.Errorf("apply call progress: %w", err)
		}
		return tag.RowsAffected() > 0, nil
	}

	endedAt := outcome.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now()
	}

	query := `
		UPDATE call_attempts
		SET status = $1,
		    transcript = COALESCE(NULLIF($2, ''), transcript),
		    outcome = COALESCE($3, outcome),
		    cost_cents = CASE WHEN $4 > 0 THEN $4 ELSE cost_cents END,
		    duration_seconds = CASE WHEN $5 > 0 THEN $5 ELSE duration_seconds END,
		    ended_at = $6,
		    updated_at = now()
		WHERE id = $7 AND status NOT IN ` + terminalList

	tag, err := r.pool.Exec(ctx, query,
		outcome.Status, outcome.Transcript, outcome.Structured,
		outcome.CostCents, outcome.DurationSeconds, endedAt, attemptID,
	)
	if err != nil {
		return false, fmt.Errorf("apply call outcome: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// EnrichAttempt appends late-arriving enrichment without touching status.
func (r *Repo) EnrichAttempt(ctx context.Context, attemptID uuid.UUID, costCents int64, transcript string) error {
	query := `
		UPDATE call_attempts
		SET cost_cents = CASE WHEN cost_cents = 0 AND $1 > 0 THEN $1 ELSE cost_cents END,
		    transcript = COALESCE(transcript, NULLIF($2, '')),
		    updated_at = now()
		WHERE id = $3`

	if _, err := r.pool.Exec(ctx, query, costCents, transcript, attemptID); err != nil {
		return fmt.Errorf("enrich call attempt: %w", err)
	}
	return nil
}

// CountNonTerminal returns the number of attempts still in flight for a batch.
func (r *Repo) CountNonTerminal(ctx context.Context, requestID uuid.UUID, phase domain.Phase) (int, error) {
	query := `SELECT count(*) FROM call_attempts
		WHERE request_id = $1 AND phase = $2 AND status NOT IN ` + terminalList

	var count int
	if err := r.pool.QueryRow(ctx, query, requestID, phase).Scan(&count); err != nil {
		return 0, fmt.Errorf("count non-terminal attempts: %w", err)
	}
	return count, nil
}

// ForceTimeout terminalizes every straggler in the batch.
func (r *Repo) ForceTimeout(ctx context.Context, requestID uuid.UUID, phase domain.Phase) (int, error) {
	query := `
		UPDATE call_attempts
		SET status = 'timeout', ended_at = now(), updated_at = now()
		WHERE request_id = $1 AND phase = $2 AND status NOT IN ` + terminalList

	tag, err := r.pool.Exec(ctx, query, requestID, phase)
	if err != nil {
		return 0, fmt.Errorf("force timeout attempts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var a Attempt
	err := row.Scan(
		&a.ID, &a.RequestID, &a.CandidateID, &a.Phase, &a.Backend, &a.PlatformCallID, &a.Status,
		&a.StartedAt, &a.EndedAt, &a.Transcript, &a.Outcome, &a.CostCents, &a.DurationSeconds,
		&a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}
