package clinical

import (
	"fmt"
	"time"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// BuildNudgeCampaign lays out the engagement campaign for a fresh plan:
// onboarding within hours, a morning hydration reminder, an engagement check
// a few days in, and a bedtime medication reminder when the plan puts the
// patient on expulsive therapy. IDs, plan linkage, and status are filled in
// by the scheduler; everything starts gated behind plan approval.
func BuildNudgeCampaign(treatment entities.Treatment, fluidTargetML int, now time.Time) []entities.Nudge {
	nudges := []entities.Nudge{
		{
			ScheduledFor: now.Add(2 * time.Hour),
			Channel:      entities.ChannelSMS,
			Template:     "welcome",
			Message:      fmt.Sprintf("Welcome! Your daily water goal is %dml.", fluidTargetML),
		},
		{
			ScheduledFor: now.Add(24*time.Hour + 9*time.Hour),
			Channel:      entities.ChannelSMS,
			Template:     "hydration_morning",
			Message:      "Good morning! Start with a big glass of water.",
		},
		{
			ScheduledFor: now.Add(72 * time.Hour),
			Channel:      entities.ChannelSMS,
			Template:     "engagement_check",
			Message:      "How is hydration going? Reply YES if you hit your goal yesterday.",
		},
	}

	if treatment == entities.TreatmentMedicalExpulsive {
		nudges = append(nudges, entities.Nudge{
			ScheduledFor: now.Add(24*time.Hour + 21*time.Hour),
			Channel:      entities.ChannelSMS,
			Template:     "medication_reminder",
			Message:      "Time for your tamsulosin. Take at bedtime to minimize dizziness.",
		})
	}
	return nudges
}
