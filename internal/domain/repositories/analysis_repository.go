package repositories

import (
	"context"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// AnalysisRepository defines the interface for stone analysis records.
// Analyses are immutable: re-runs create new records, never update old ones.
type AnalysisRepository interface {
	// Create persists a new analysis record
	Create(ctx context.Context, analysis *entities.StoneAnalysis) error

	// GetByID retrieves an analysis by ID
	GetByID(ctx context.Context, id string) (*entities.StoneAnalysis, error)

	// GetLatestByPatient retrieves the most recent analysis for a patient
	GetLatestByPatient(ctx context.Context, patientID string) (*entities.StoneAnalysis, error)

	// ListByPatient retrieves all analyses for a patient, newest first
	ListByPatient(ctx context.Context, patientID string, limit int) ([]*entities.StoneAnalysis, error)
}

// ArtifactRepository defines the interface for mesh artifact blobs. An
// absent artifact means "not yet modeled"; an artifact with zero stones
// means "modeled, nothing to show".
type ArtifactRepository interface {
	// Store persists a mesh container and returns nothing; the ID is chosen
	// by the caller so the analysis record can reference it atomically
	Store(ctx context.Context, id string, analysisID string, data []byte) error

	// Fetch retrieves a mesh container by ID
	Fetch(ctx context.Context, id string) ([]byte, error)
}
