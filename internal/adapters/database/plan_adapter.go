package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/internal/domain/repositories"
	"github.com/klenai/stonecare/internal/infrastructure/clients/postgres"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// PlanAdapter implements the PlanRepository interface. Versions are
// assigned inside the insert transaction, and both state transitions are
// conditional updates so a stale approval can never clobber a newer state.
type PlanAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewPlanAdapter creates a new plan adapter
func NewPlanAdapter(client *postgres.Client) repositories.PlanRepository {
	return &PlanAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

func (a *PlanAdapter) planSelect() *goqu.SelectDataset {
	return a.db.Select(
		"id", "patient_id", "analysis_id", "version", "status",
		"treatment_recommendation", "urgency_level", "prevention",
		"personalized_summary", "education_materials", "compliance_checkpoints",
		"superseded_by", "approved_at", "created_at",
	).From("plan_versions")
}

// Create persists a new plan version with version = MAX(version)+1 for the
// patient, assigned within the transaction.
func (a *PlanAdapter) Create(ctx context.Context, plan *entities.PlanVersion) error {
	prevention, err := json.Marshal(plan.Prevention)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal prevention", err)
	}
	materials, err := json.Marshal(plan.EducationMaterials)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal education materials", err)
	}
	checkpoints, err := json.Marshal(plan.ComplianceCheckpoints)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal checkpoints", err)
	}

	tx, err := a.client.BeginTx(ctx)
	if err != nil {
		return apperrors.NewInternalError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM plan_versions WHERE patient_id = $1`,
		plan.PatientID,
	).Scan(&version)
	if err != nil {
		return apperrors.NewInternalError("failed to assign plan version", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plan_versions (
			id, patient_id, analysis_id, version, status,
			treatment_recommendation, urgency_level, prevention,
			personalized_summary, education_materials, compliance_checkpoints,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		plan.ID, plan.PatientID, plan.AnalysisID, version, entities.PlanStatusPending,
		plan.TreatmentRecommendation, plan.UrgencyLevel, prevention,
		plan.PersonalizedSummary, materials, checkpoints,
		plan.CreatedAt,
	)
	if err != nil {
		return apperrors.NewInternalError("failed to create plan", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewInternalError("failed to commit plan", err)
	}

	plan.Version = version
	plan.Status = entities.PlanStatusPending
	return nil
}

// GetByID retrieves a plan version by ID
func (a *PlanAdapter) GetByID(ctx context.Context, id string) (*entities.PlanVersion, error) {
	query, args, err := a.planSelect().Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	plan, err := a.scanPlan(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("plan with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get plan", err)
	}
	return plan, nil
}

// GetActiveByPatient retrieves the patient's current approved plan
func (a *PlanAdapter) GetActiveByPatient(ctx context.Context, patientID string) (*entities.PlanVersion, error) {
	query, args, err := a.planSelect().
		Where(goqu.Ex{"patient_id": patientID, "status": entities.PlanStatusApproved}).
		Order(goqu.I("version").Desc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	plan, err := a.scanPlan(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no approved plan for patient %s", patientID))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get active plan", err)
	}
	return plan, nil
}

// MarkApproved transitions pending → approved, applying any overrides to the
// stored prevention parameters in the same statement's transaction.
func (a *PlanAdapter) MarkApproved(ctx context.Context, id string, overrides entities.ApprovalOverrides) error {
	tx, err := a.client.BeginTx(ctx)
	if err != nil {
		return apperrors.NewInternalError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE plan_versions
		SET status = $1, approved_at = $2
		WHERE id = $3 AND status = $4`,
		entities.PlanStatusApproved, time.Now().UTC(), id, entities.PlanStatusPending,
	)
	if err != nil {
		return apperrors.NewInternalError("failed to approve plan", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to read rows affected", err)
	}
	if affected == 0 {
		return apperrors.NewConflictError(fmt.Sprintf("plan %s is not pending approval", id))
	}

	if overrides.FluidTargetML != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE plan_versions
			SET prevention = jsonb_set(prevention, '{fluid_target_ml}', to_jsonb($1::int))
			WHERE id = $2`,
			*overrides.FluidTargetML, id,
		)
		if err != nil {
			return apperrors.NewInternalError("failed to apply fluid target override", err)
		}
	}
	if overrides.ProviderNotes != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE plan_versions SET provider_notes = $1 WHERE id = $2`,
			overrides.ProviderNotes, id,
		)
		if err != nil {
			return apperrors.NewInternalError("failed to record provider notes", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewInternalError("failed to commit approval", err)
	}
	return nil
}

// MarkSuperseded transitions approved → superseded, recording the successor
func (a *PlanAdapter) MarkSuperseded(ctx context.Context, id string, supersededBy string) error {
	res, err := a.client.DB().ExecContext(ctx, `
		UPDATE plan_versions
		SET status = $1, superseded_by = $2
		WHERE id = $3 AND status = $4`,
		entities.PlanStatusSuperseded, supersededBy, id, entities.PlanStatusApproved,
	)
	if err != nil {
		return apperrors.NewInternalError("failed to supersede plan", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to read rows affected", err)
	}
	if affected == 0 {
		return apperrors.NewConflictError(fmt.Sprintf("plan %s is not approved", id))
	}
	return nil
}

func (a *PlanAdapter) scanPlan(row rowScanner) (*entities.PlanVersion, error) {
	plan := &entities.PlanVersion{}
	var prevention, materials, checkpoints []byte
	var summary sql.NullString
	var supersededBy sql.NullString
	var approvedAt sql.NullTime

	err := row.Scan(
		&plan.ID,
		&plan.PatientID,
		&plan.AnalysisID,
		&plan.Version,
		&plan.Status,
		&plan.TreatmentRecommendation,
		&plan.UrgencyLevel,
		&prevention,
		&summary,
		&materials,
		&checkpoints,
		&supersededBy,
		&approvedAt,
		&plan.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(prevention, &plan.Prevention); err != nil {
		return nil, fmt.Errorf("unmarshaling prevention: %w", err)
	}
	if len(materials) > 0 {
		if err := json.Unmarshal(materials, &plan.EducationMaterials); err != nil {
			return nil, fmt.Errorf("unmarshaling education materials: %w", err)
		}
	}
	if len(checkpoints) > 0 {
		if err := json.Unmarshal(checkpoints, &plan.ComplianceCheckpoints); err != nil {
			return nil, fmt.Errorf("unmarshaling checkpoints: %w", err)
		}
	}

	plan.PersonalizedSummary = summary.String
	if supersededBy.Valid {
		plan.SupersededBy = &supersededBy.String
	}
	if approvedAt.Valid {
		plan.ApprovedAt = &approvedAt.Time
	}
	return plan, nil
}
