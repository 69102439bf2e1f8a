package clinical

import (
	"fmt"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// FallbackSummary is used when the inference service cannot produce a
// personalized education summary; education is best-effort and never fails
// a run.
const FallbackSummary = "You have a kidney stone. Staying hydrated and following your plan can help " +
	"prevent future stones. Your care team will guide treatment options based on size and location."

// BuildEducationPrompt asks for a plain-language summary of the patient's
// stone and prevention plan.
func BuildEducationPrompt(composition entities.Composition, primary entities.StoneFinding, treatment entities.Treatment, fluidTargetML int) string {
	size := "unknown"
	if s := primary.BestSizeMM(); s > 0 {
		size = fmt.Sprintf("%.1f", s)
	}
	location := string(primary.Location)
	if location == "" {
		location = "unknown"
	}
	return fmt.Sprintf(
		"Create a patient-friendly explanation (6th grade reading level) about their kidney stone type and prevention plan. "+
			"Stone type: %s. Stone size: %smm. Location: %s. Treatment: %s. Fluid goal: %dml daily. "+
			"Be encouraging and concise.",
		composition, size, location, treatment, fluidTargetML,
	)
}

// DefaultEducationMaterials returns the curated material list attached to
// every plan.
func DefaultEducationMaterials() []entities.EducationMaterial {
	return []entities.EducationMaterial{
		{
			Type:        "pdf",
			Title:       "Understanding Kidney Stones",
			URL:         "/materials/kidney-stones-101.pdf",
			Description: "Overview of kidney stone disease",
		},
		{
			Type:        "pdf",
			Title:       "Hydration Guide",
			URL:         "/materials/hydration-guide.pdf",
			Description: "Tips for meeting your fluid goals",
		},
	}
}

// ComplianceSchedule returns the clinical follow-up checkpoints attached to
// every plan.
func ComplianceSchedule() []entities.ComplianceCheckpoint {
	return []entities.ComplianceCheckpoint{
		{
			Day:         30,
			Action:      "24hr_urine_recheck",
			Description: "Repeat 24-hour urine to verify improvements",
		},
		{
			Day:         180,
			Action:      "imaging_followup",
			Description: "Ultrasound to check for new stone formation",
		},
	}
}
