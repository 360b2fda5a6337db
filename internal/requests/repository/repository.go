// Package repository provides PostgreSQL persistence for service requests.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vetline_backend/internal/requests/domain"
	"vetline_backend/platform/apperr"
)

const requestNotFoundMessage = "service request not found"

// ServiceRequest is one user-initiated job.
type ServiceRequest struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	Description         string
	Criteria            []string
	Urgency             string
	Address             string
	ContactPhone        string
	ContactEmail        string
	Status              domain.Status
	SelectedCandidateID *uuid.UUID
	OutcomeSummary      *string
	FailureReason       *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Repository is the persistence interface for service requests.
type Repository interface {
	Create(ctx context.Context, req ServiceRequest) (ServiceRequest, error)
	GetByID(ctx context.Context, id uuid.UUID) (ServiceRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]ServiceRequest, error)
	// TransitionStatus performs a compare-and-set status update. It fails with
	// a conflict error when the stored status no longer matches from, which
	// serializes concurrent writers per request id.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, reason string) error
	SetSelectedCandidate(ctx context.Context, id, candidateID uuid.UUID) error
	SetOutcomeSummary(ctx context.Context, id uuid.UUID, summary string) error
}

// Repo implements Repository with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new service request repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

const requestColumns = `id, user_id, description, criteria, urgency, address, contact_phone, contact_email,
		status, selected_candidate_id, outcome_summary, failure_reason, created_at, updated_at`

// Create persists a new service request in PENDING.
func (r *Repo) Create(ctx context.Context, req ServiceRequest) (ServiceRequest, error) {
	query := `
		INSERT INTO service_requests (id, user_id, description, criteria, urgency, address, contact_phone, contact_email, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + requestColumns

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = domain.StatusPending
	}

	row := r.pool.QueryRow(ctx, query,
		req.ID, req.UserID, req.Description, req.Criteria, req.Urgency,
		req.Address, req.ContactPhone, req.ContactEmail, req.Status,
	)

	created, err := scanRequest(row)
	if err != nil {
		return ServiceRequest{}, fmt.Errorf("create service request: %w", err)
	}
	return created, nil
}

// GetByID retrieves a service request by its ID.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (ServiceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM service_requests WHERE id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceRequest{}, apperr.NotFound(requestNotFoundMessage)
		}
		return ServiceRequest{}, fmt.Errorf("get service request: %w", err)
	}
	return req, nil
}

// ListByUser retrieves the most recent requests for a user.
func (r *Repo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]ServiceRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + requestColumns + `
		FROM service_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list service requests: %w", err)
	}
	defer rows.Close()

	var out []ServiceRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// TransitionStatus performs the compare-and-set lifecycle update.
func (r *Repo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, reason string) error {
	if !domain.CanTransition(from, to) {
		return apperr.Conflict(fmt.Sprintf("illegal transition %s -> %s", from, to))
	}

	query := `
		UPDATE service_requests
		SET status = $1,
		    failure_reason = CASE WHEN $1 = 'FAILED' THEN $2 ELSE failure_reason END,
		    updated_at = now()
		WHERE id = $3 AND status = $4`

	tag, err := r.pool.Exec(ctx, query, to, nullable(reason), id, from)
	if err != nil {
		return fmt.Errorf("transition request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the request is gone or another writer moved it first.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return apperr.Conflict(fmt.Sprintf("request no longer in %s", from))
	}
	return nil
}

// SetSelectedCandidate records the provider the user picked.
func (r *Repo) SetSelectedCandidate(ctx context.Context, id, candidateID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE service_requests SET selected_candidate_id = $1, updated_at = now() WHERE id = $2`,
		candidateID, id,
	)
	if err != nil {
		return fmt.Errorf("set selected candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(requestNotFoundMessage)
	}
	return nil
}

// SetOutcomeSummary stores the final outcome summary text.
func (r *Repo) SetOutcomeSummary(ctx context.Context, id uuid.UUID, summary string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE service_requests SET outcome_summary = $1, updated_at = now() WHERE id = $2`,
		summary, id,
	)
	if err != nil {
		return fmt.Errorf("set outcome summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(requestNotFoundMessage)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (ServiceRequest, error) {
	var req ServiceRequest
	err := row.Scan(
		&req.ID, &req.UserID, &req.Description, &req.Criteria, &req.Urgency,
		&req.Address, &req.ContactPhone, &req.ContactEmail, &req.Status,
		&req.SelectedCandidateID, &req.OutcomeSummary, &req.FailureReason,
		&req.CreatedAt, &req.UpdatedAt,
	)
	return req, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
