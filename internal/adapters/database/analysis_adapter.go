package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/internal/domain/repositories"
	"github.com/klenai/stonecare/internal/infrastructure/clients/postgres"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// AnalysisAdapter implements the AnalysisRepository interface. Stones,
// risk factors, and warnings are stored as JSONB columns; the scalar
// decision fields are proper columns so they can be queried.
type AnalysisAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewAnalysisAdapter creates a new analysis adapter
func NewAnalysisAdapter(client *postgres.Client) repositories.AnalysisRepository {
	return &AnalysisAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

const analysisColumns = `
	id, patient_id, scan_path, stones, predicted_composition,
	composition_confidence, hydronephrosis_level, total_burden_mm3,
	treatment_recommendation, treatment_rationale, urgency_level,
	metabolic_risk_factors, mesh_artifact_id, warnings, created_at
`

// Create persists a new analysis record
func (a *AnalysisAdapter) Create(ctx context.Context, analysis *entities.StoneAnalysis) error {
	stones, err := json.Marshal(analysis.Stones)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal stones", err)
	}
	riskFactors, err := json.Marshal(analysis.MetabolicRiskFactors)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal risk factors", err)
	}
	warnings, err := json.Marshal(analysis.Warnings)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal warnings", err)
	}

	record := goqu.Record{
		"id":                       analysis.ID,
		"patient_id":               analysis.PatientID,
		"scan_path":                analysis.ScanPath,
		"stones":                   stones,
		"predicted_composition":    analysis.PredictedComposition,
		"composition_confidence":   analysis.CompositionConfidence,
		"hydronephrosis_level":     analysis.HydronephrosisLevel,
		"total_burden_mm3":         analysis.TotalBurdenMM3,
		"treatment_recommendation": analysis.TreatmentRecommendation,
		"treatment_rationale":      analysis.TreatmentRationale,
		"urgency_level":            analysis.UrgencyLevel,
		"metabolic_risk_factors":   riskFactors,
		"mesh_artifact_id":         analysis.MeshArtifactID,
		"warnings":                 warnings,
		"created_at":               analysis.CreatedAt,
	}

	query, args, err := a.db.Insert("stone_analyses").Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create analysis", err)
	}
	return nil
}

// GetByID retrieves an analysis by ID
func (a *AnalysisAdapter) GetByID(ctx context.Context, id string) (*entities.StoneAnalysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM stone_analyses WHERE id = $1`

	analysis, err := a.scanAnalysis(a.client.DB().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("analysis with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get analysis", err)
	}
	return analysis, nil
}

// GetLatestByPatient retrieves the most recent analysis for a patient
func (a *AnalysisAdapter) GetLatestByPatient(ctx context.Context, patientID string) (*entities.StoneAnalysis, error) {
	query := `SELECT ` + analysisColumns + `
		FROM stone_analyses
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	analysis, err := a.scanAnalysis(a.client.DB().QueryRowContext(ctx, query, patientID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no analyses for patient %s", patientID))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get latest analysis", err)
	}
	return analysis, nil
}

// ListByPatient retrieves all analyses for a patient, newest first
func (a *AnalysisAdapter) ListByPatient(ctx context.Context, patientID string, limit int) ([]*entities.StoneAnalysis, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + analysisColumns + `
		FROM stone_analyses
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := a.client.DB().QueryContext(ctx, query, patientID, limit)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list analyses", err)
	}
	defer rows.Close()

	var analyses []*entities.StoneAnalysis
	for rows.Next() {
		analysis, err := a.scanAnalysis(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan analysis", err)
		}
		analyses = append(analyses, analysis)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate analyses", err)
	}
	return analyses, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (a *AnalysisAdapter) scanAnalysis(row rowScanner) (*entities.StoneAnalysis, error) {
	analysis := &entities.StoneAnalysis{}
	var stones, riskFactors, warnings []byte
	var hydroLevel, rationale sql.NullString
	var burden sql.NullFloat64
	var meshArtifactID sql.NullString

	err := row.Scan(
		&analysis.ID,
		&analysis.PatientID,
		&analysis.ScanPath,
		&stones,
		&analysis.PredictedComposition,
		&analysis.CompositionConfidence,
		&hydroLevel,
		&burden,
		&analysis.TreatmentRecommendation,
		&rationale,
		&analysis.UrgencyLevel,
		&riskFactors,
		&meshArtifactID,
		&warnings,
		&analysis.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stones, &analysis.Stones); err != nil {
		return nil, fmt.Errorf("unmarshaling stones: %w", err)
	}
	if len(riskFactors) > 0 {
		if err := json.Unmarshal(riskFactors, &analysis.MetabolicRiskFactors); err != nil {
			return nil, fmt.Errorf("unmarshaling risk factors: %w", err)
		}
	}
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &analysis.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshaling warnings: %w", err)
		}
	}

	analysis.HydronephrosisLevel = hydroLevel.String
	analysis.TreatmentRationale = rationale.String
	if burden.Valid {
		analysis.TotalBurdenMM3 = &burden.Float64
	}
	if meshArtifactID.Valid {
		analysis.MeshArtifactID = &meshArtifactID.String
	}
	return analysis, nil
}

// ArtifactAdapter implements the ArtifactRepository interface, storing mesh
// containers as bytea rows keyed by artifact ID.
type ArtifactAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewArtifactAdapter creates a new artifact adapter
func NewArtifactAdapter(client *postgres.Client) repositories.ArtifactRepository {
	return &ArtifactAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Store persists a mesh container blob
func (a *ArtifactAdapter) Store(ctx context.Context, id string, analysisID string, data []byte) error {
	record := goqu.Record{
		"id":          id,
		"analysis_id": analysisID,
		"data":        data,
		"created_at":  goqu.L("NOW()"),
	}
	query, args, err := a.db.Insert("mesh_artifacts").Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to store artifact", err)
	}
	return nil
}

// Fetch retrieves a mesh container blob by ID
func (a *ArtifactAdapter) Fetch(ctx context.Context, id string) ([]byte, error) {
	query, args, err := a.db.Select("data").From("mesh_artifacts").
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var data []byte
	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("artifact with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to fetch artifact", err)
	}
	return data, nil
}
