package repositories

import (
	"context"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// PlanRepository defines the interface for plan version persistence. State
// transitions are conditional updates: they succeed only when the row is
// still in the expected state, so concurrent approvals cannot race.
type PlanRepository interface {
	// Create persists a new plan version, assigning version = MAX(version)+1
	// for the patient within the same transaction
	Create(ctx context.Context, plan *entities.PlanVersion) error

	// GetByID retrieves a plan version by ID
	GetByID(ctx context.Context, id string) (*entities.PlanVersion, error)

	// GetActiveByPatient retrieves the patient's current approved plan,
	// or a NotFound error when none is approved
	GetActiveByPatient(ctx context.Context, patientID string) (*entities.PlanVersion, error)

	// MarkApproved transitions pending → approved. Returns a Conflict error
	// when the plan is no longer pending
	MarkApproved(ctx context.Context, id string, overrides entities.ApprovalOverrides) error

	// MarkSuperseded transitions approved → superseded, recording the
	// successor. Returns a Conflict error when the plan is not approved
	MarkSuperseded(ctx context.Context, id string, supersededBy string) error
}
