package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 1, hour, minute, 0, 0, time.UTC)
}

func TestPatient_InQuietHours(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		now   time.Time
		want  bool
	}{
		{"no quiet hours", "", "", at(3, 0), false},
		{"same start and end", "08:00", "08:00", at(8, 0), false},
		{"malformed start", "8am", "09:00", at(8, 30), false},

		{"daytime window inside", "13:00", "15:00", at(14, 0), true},
		{"daytime window before", "13:00", "15:00", at(12, 59), false},
		{"daytime window at start", "13:00", "15:00", at(13, 0), true},
		{"daytime window at end", "13:00", "15:00", at(15, 0), false},

		{"overnight late evening", "21:00", "08:00", at(23, 30), true},
		{"overnight early morning", "21:00", "08:00", at(6, 0), true},
		{"overnight at start", "21:00", "08:00", at(21, 0), true},
		{"overnight at end", "21:00", "08:00", at(8, 0), false},
		{"overnight midday", "21:00", "08:00", at(12, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Patient{QuietHoursStart: tt.start, QuietHoursEnd: tt.end}
			assert.Equal(t, tt.want, p.InQuietHours(tt.now))
		})
	}
}

func TestContactPreferences_ChannelAllowed(t *testing.T) {
	prefs := ContactPreferences{SMSEnabled: true, VoiceEnabled: false}

	assert.True(t, prefs.ChannelAllowed(ChannelSMS))
	assert.False(t, prefs.ChannelAllowed(ChannelVoice))
	assert.False(t, prefs.ChannelAllowed(NudgeChannel("carrier_pigeon")))
}

func TestStoneFinding_BestSizeMM(t *testing.T) {
	size := 7.5
	withScalar := StoneFinding{SizeMM: &size, DimensionsMM: []float64{3, 4, 5}}
	assert.Equal(t, 7.5, withScalar.BestSizeMM())

	withDims := StoneFinding{DimensionsMM: []float64{3, 9, 5}}
	assert.Equal(t, 9.0, withDims.BestSizeMM())

	empty := StoneFinding{}
	assert.Equal(t, 0.0, empty.BestSizeMM())
}

func TestStoneFinding_IsStaghorn(t *testing.T) {
	assert.True(t, (&StoneFinding{Shape: "partial Staghorn calculus"}).IsStaghorn())
	assert.False(t, (&StoneFinding{Shape: "ovoid"}).IsStaghorn())
}
