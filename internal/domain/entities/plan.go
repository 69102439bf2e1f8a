package entities

import "time"

// PlanStatus tracks a plan version through its approval lifecycle.
type PlanStatus string

const (
	PlanStatusPending    PlanStatus = "pending"
	PlanStatusApproved   PlanStatus = "approved"
	PlanStatusSuperseded PlanStatus = "superseded"
)

// DietaryItem is one food with the reason it is called out.
type DietaryItem struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// DietaryRecommendation groups items to reduce or increase.
type DietaryRecommendation struct {
	Category string        `json:"category"` // reduce | increase
	Items    []DietaryItem `json:"items"`
	Priority string        `json:"priority"`
}

// Medication is a recommended prescription with its rationale.
type Medication struct {
	Name      string `json:"name"`
	Dose      string `json:"dose"`
	Rationale string `json:"rationale"`
}

// EducationMaterial points at a curated patient-education resource.
type EducationMaterial struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// ComplianceCheckpoint is a scheduled clinical follow-up.
type ComplianceCheckpoint struct {
	Day         int    `json:"day"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// Prevention holds the lab- and composition-driven prevention parameters.
// All lab-driven rules are additive; no rule removes another rule's output.
type Prevention struct {
	FluidTargetML          int                     `json:"fluid_target_ml"`
	DietaryRecommendations []DietaryRecommendation `json:"dietary_recommendations"`
	Medications            []Medication            `json:"medications"`
	LifestyleModifications []string                `json:"lifestyle_modifications"`
}

// PlanVersion is the output of one workflow run. Exactly one plan is active
// per patient at a time; approving a new version supersedes the prior one.
type PlanVersion struct {
	ID         string     `json:"id" db:"id"`
	PatientID  string     `json:"patient_id" db:"patient_id"`
	AnalysisID string     `json:"analysis_id" db:"analysis_id"`
	Version    int        `json:"version" db:"version"`
	Status     PlanStatus `json:"status" db:"status"`

	TreatmentRecommendation Treatment `json:"treatment_recommendation" db:"treatment_recommendation"`
	UrgencyLevel            Urgency   `json:"urgency_level" db:"urgency_level"`

	Prevention            Prevention             `json:"prevention"`
	PersonalizedSummary   string                 `json:"personalized_summary" db:"personalized_summary"`
	EducationMaterials    []EducationMaterial    `json:"education_materials,omitempty"`
	ComplianceCheckpoints []ComplianceCheckpoint `json:"compliance_checkpoints,omitempty"`

	SupersededBy *string    `json:"superseded_by,omitempty" db:"superseded_by"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// ApprovalOverrides carries optional field-level overrides supplied with an
// approval action.
type ApprovalOverrides struct {
	FluidTargetML *int   `json:"fluid_target_ml,omitempty"`
	ProviderNotes string `json:"provider_notes,omitempty"`
}
