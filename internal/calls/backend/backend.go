// Package backend provides the two call execution backends and the router
// that picks between them. A backend owns one call end to end: it places the
// call, records placement, and blocks until a terminal outcome is known.
package backend

import (
	"context"

	"github.com/google/uuid"

	"vetline_backend/internal/calls/domain"
)

// ExecutionBackend runs a single outbound call to completion.
//
// Execute blocks until the call reaches a terminal status or ctx expires.
// An expired wait is reported as a timeout outcome, not an error; errors mean
// the call could not be placed at all.
type ExecutionBackend interface {
	Kind() domain.BackendKind
	Execute(ctx context.Context, call domain.CallRequest) (domain.Outcome, error)
}

// PlacementRecorder persists which backend took a call and the platform's
// identifier for it. Satisfied by the calls repository.
type PlacementRecorder interface {
	SetPlacement(ctx context.Context, attemptID uuid.UUID, backend domain.BackendKind, platformCallID string) error
}
