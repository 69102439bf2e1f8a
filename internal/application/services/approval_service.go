package services

import (
	"context"

	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/internal/domain/repositories"
	"github.com/klenai/stonecare/internal/infrastructure/observability"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// ApprovalService applies provider approval to a pending plan version.
// Approval supersedes the patient's previous active plan, skips its unsent
// nudges, and queues the new plan's nudges for dispatch.
type ApprovalService struct {
	plans  repositories.PlanRepository
	nudges repositories.NudgeRepository
}

// NewApprovalService creates an approval service
func NewApprovalService(plans repositories.PlanRepository, nudges repositories.NudgeRepository) *ApprovalService {
	return &ApprovalService{plans: plans, nudges: nudges}
}

// Approve transitions a pending plan to approved with optional overrides.
func (s *ApprovalService) Approve(ctx context.Context, planID string, overrides entities.ApprovalOverrides) (*entities.PlanVersion, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != entities.PlanStatusPending {
		return nil, apperrors.NewConflictError("plan is not pending approval")
	}

	// Supersede the previous active plan before the new one goes live, so
	// at most one plan per patient is approved at any time.
	prior, err := s.plans.GetActiveByPatient(ctx, plan.PatientID)
	if err != nil && !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return nil, err
	}
	if prior != nil && prior.ID != plan.ID {
		if err := s.plans.MarkSuperseded(ctx, prior.ID, plan.ID); err != nil {
			return nil, err
		}
		if err := s.nudges.SkipForPlan(ctx, prior.ID); err != nil {
			return nil, err
		}
	}

	if err := s.plans.MarkApproved(ctx, planID, overrides); err != nil {
		return nil, err
	}
	if err := s.nudges.QueueForPlan(ctx, planID); err != nil {
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Str("plan_id", planID).
		Str("patient_id", plan.PatientID).
		Msg("plan approved")

	return s.plans.GetByID(ctx, planID)
}
