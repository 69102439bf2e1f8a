package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/internal/domain/repositories"
	"github.com/klenai/stonecare/internal/infrastructure/clients/postgres"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// PatientAdapter implements the read-only PatientRepository view.
type PatientAdapter struct {
	client *postgres.Client
}

// NewPatientAdapter creates a new patient adapter
func NewPatientAdapter(client *postgres.Client) repositories.PatientRepository {
	return &PatientAdapter{client: client}
}

type patientRow struct {
	ID                  string         `db:"id"`
	Name                string         `db:"name"`
	Phone               string         `db:"phone"`
	SMSEnabled          bool           `db:"sms_enabled"`
	VoiceEnabled        bool           `db:"voice_enabled"`
	CommunicationPaused bool           `db:"communication_paused"`
	QuietHoursStart     sql.NullString `db:"quiet_hours_start"`
	QuietHoursEnd       sql.NullString `db:"quiet_hours_end"`
	CreatedAt           sql.NullTime   `db:"created_at"`
}

// GetByID retrieves a patient by ID
func (a *PatientAdapter) GetByID(ctx context.Context, id string) (*entities.Patient, error) {
	var row patientRow
	err := a.client.DBX().GetContext(ctx, &row, `
		SELECT id, name, phone, sms_enabled, voice_enabled,
		       communication_paused, quiet_hours_start, quiet_hours_end,
		       created_at
		FROM patients
		WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("patient with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get patient", err)
	}

	patient := &entities.Patient{
		ID:    row.ID,
		Name:  row.Name,
		Phone: row.Phone,
		Preferences: entities.ContactPreferences{
			SMSEnabled:   row.SMSEnabled,
			VoiceEnabled: row.VoiceEnabled,
		},
		CommunicationPaused: row.CommunicationPaused,
		QuietHoursStart:     row.QuietHoursStart.String,
		QuietHoursEnd:       row.QuietHoursEnd.String,
	}
	if row.CreatedAt.Valid {
		patient.CreatedAt = row.CreatedAt.Time
	}
	return patient, nil
}
