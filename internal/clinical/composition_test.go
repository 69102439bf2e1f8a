package clinical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klenai/stonecare/internal/domain/entities"
)

func TestPredictCompositionFromHU(t *testing.T) {
	tests := []struct {
		hu   float64
		want entities.Composition
	}{
		{300, entities.CompositionUricAcid},
		{499.9, entities.CompositionUricAcid},
		{500, entities.CompositionCystine},
		{699, entities.CompositionCystine},
		{700, entities.CompositionCalciumOxalate},
		{999, entities.CompositionCalciumOxalate},
		{1000, entities.CompositionCalciumPhosphate},
		{1600, entities.CompositionCalciumPhosphate},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PredictCompositionFromHU(tt.hu), "hu=%v", tt.hu)
	}
}

func TestNormalizeComposition(t *testing.T) {
	tests := []struct {
		in   string
		want entities.Composition
	}{
		{"Calcium Oxalate Monohydrate", entities.CompositionCalciumOxalate},
		{"calcium phosphate (brushite)", entities.CompositionCalciumPhosphate},
		{"URIC ACID", entities.CompositionUricAcid},
		{"struvite", entities.CompositionStruvite},
		{"cystine stone", entities.CompositionCystine},
		{"mixed composition", entities.CompositionMixed},
		{"", entities.CompositionUnknown},
		{"amorphous debris", entities.CompositionUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeComposition(tt.in), "in=%q", tt.in)
	}
}

func TestAggregateComposition(t *testing.T) {
	stones := []entities.StoneFinding{
		{},
		{PredictedComposition: entities.CompositionCystine},
		{PredictedComposition: entities.CompositionUricAcid},
	}
	assert.Equal(t, entities.CompositionCystine, AggregateComposition(stones))
	assert.Equal(t, entities.CompositionUnknown, AggregateComposition(nil))
}

func TestBuildNudgeCampaign(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	nudges := BuildNudgeCampaign(entities.TreatmentObservation, 3000, now)
	require.Len(t, nudges, 3)
	assert.Equal(t, "welcome", nudges[0].Template)
	assert.Equal(t, now.Add(2*time.Hour), nudges[0].ScheduledFor)
	assert.Contains(t, nudges[0].Message, "3000ml")
	for _, n := range nudges {
		assert.Equal(t, entities.ChannelSMS, n.Channel)
	}

	withMeds := BuildNudgeCampaign(entities.TreatmentMedicalExpulsive, 3000, now)
	require.Len(t, withMeds, 4)
	assert.Equal(t, "medication_reminder", withMeds[3].Template)
}
