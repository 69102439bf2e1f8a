package entities

import "time"

// Treatment is a recommended treatment pathway, in order of invasiveness.
type Treatment string

const (
	TreatmentObservation      Treatment = "observation"
	TreatmentMedicalExpulsive Treatment = "medical_expulsive"
	TreatmentESWL             Treatment = "eswl"
	TreatmentUreteroscopy     Treatment = "ureteroscopy"
	TreatmentPCNL             Treatment = "pcnl"
)

// Urgency is the clinical priority attached to a treatment recommendation.
type Urgency string

const (
	UrgencyEmergent Urgency = "emergent"
	UrgencyUrgent   Urgency = "urgent"
	UrgencyRoutine  Urgency = "routine"
)

// IsUrgent reports whether the urgency demands expedited care.
func (u Urgency) IsUrgent() bool {
	return u == UrgencyUrgent || u == UrgencyEmergent
}

// StoneAnalysis is the immutable record of one workflow run. A lab-only
// re-run produces a new record that references the prior run's mesh artifact
// rather than mutating the earlier analysis.
type StoneAnalysis struct {
	ID        string `json:"id" db:"id"`
	PatientID string `json:"patient_id" db:"patient_id"`
	ScanPath  string `json:"scan_path" db:"scan_path"`

	Stones                []StoneFinding `json:"stones"`
	PredictedComposition  Composition    `json:"predicted_composition" db:"predicted_composition"`
	CompositionConfidence float64        `json:"composition_confidence" db:"composition_confidence"`
	HydronephrosisLevel   string         `json:"hydronephrosis_level,omitempty" db:"hydronephrosis_level"`
	TotalBurdenMM3        *float64       `json:"total_burden_mm3,omitempty" db:"total_burden_mm3"`

	TreatmentRecommendation Treatment `json:"treatment_recommendation" db:"treatment_recommendation"`
	TreatmentRationale      string    `json:"treatment_rationale" db:"treatment_rationale"`
	UrgencyLevel            Urgency   `json:"urgency_level" db:"urgency_level"`

	MetabolicRiskFactors []RiskFactor `json:"metabolic_risk_factors,omitempty"`

	// MeshArtifactID is nil until the run has been modeled; an artifact with
	// zero stones is distinct from no artifact at all.
	MeshArtifactID *string `json:"mesh_artifact_id,omitempty" db:"mesh_artifact_id"`

	// Warnings records non-fatal degradations (segmentation fallback,
	// excluded stones) so downstream review can see what degraded.
	Warnings []string `json:"warnings,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
