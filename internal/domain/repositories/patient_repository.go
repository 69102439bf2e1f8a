package repositories

import (
	"context"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// PatientRepository defines the read interface for the communication view of
// patients. Patient records are owned by the external patient system; the
// pipeline only reads contact preferences and quiet hours.
type PatientRepository interface {
	// GetByID retrieves a patient by ID
	GetByID(ctx context.Context, id string) (*entities.Patient, error)
}
