// Package repository provides PostgreSQL persistence for recommendation lists.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Recommendation is one persisted ranked entry.
type Recommendation struct {
	ID                   uuid.UUID
	RequestID            uuid.UUID
	CandidateID          uuid.UUID
	Rank                 int
	Score                int
	Reasoning            string
	MatchedCriteria      []string
	Availability         string
	EarliestAvailability string
	EstimatedRateCents   int64
	Summary              string
	CreatedAt            time.Time
}

// Repository persists ranked recommendation lists.
type Repository interface {
	// ReplaceRanked swaps the request's ranked list wholesale. Recomputation
	// is idempotent; stale entries never survive a regeneration.
	ReplaceRanked(ctx context.Context, requestID uuid.UUID, entries []Recommendation) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]Recommendation, error)
}

// Repo implements Repository with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new recommendations repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

// ReplaceRanked deletes the prior list and inserts the new one in one
// transaction so readers never observe a half-replaced list.
func (r *Repo) ReplaceRanked(ctx context.Context, requestID uuid.UUID, entries []Recommendation) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("replace recommendations: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM recommendations WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("replace recommendations: delete: %w", err)
	}

	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO recommendations
				(id, request_id, candidate_id, rank, score, reasoning, matched_criteria,
				 availability, earliest_availability, estimated_rate_cents, summary)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			e.ID, requestID, e.CandidateID, e.Rank, e.Score, e.Reasoning, e.MatchedCriteria,
			e.Availability, e.EarliestAvailability, e.EstimatedRateCents, e.Summary,
		)
		if err != nil {
			return fmt.Errorf("replace recommendations: insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replace recommendations: commit: %w", err)
	}
	return nil
}

// ListByRequest returns the current ranked list, best first.
func (r *Repo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]Recommendation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, candidate_id, rank, score, reasoning, matched_criteria,
		       availability, earliest_availability, estimated_rate_cents, summary, created_at
		FROM recommendations
		WHERE request_id = $1
		ORDER BY rank`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var out []Recommendation
	for rows.Next() {
		var rec Recommendation
		err := rows.Scan(
			&rec.ID, &rec.RequestID, &rec.CandidateID, &rec.Rank, &rec.Score, &rec.Reasoning,
			&rec.MatchedCriteria, &rec.Availability, &rec.EarliestAvailability,
			&rec.EstimatedRateCents, &rec.Summary, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
