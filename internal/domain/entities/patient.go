package entities

import "time"

// ContactPreferences is the per-channel opt-in state for a patient.
type ContactPreferences struct {
	SMSEnabled   bool `json:"sms_enabled" db:"sms_enabled"`
	VoiceEnabled bool `json:"voice_enabled" db:"voice_enabled"`
}

// ChannelAllowed reports whether the given channel is enabled.
func (p ContactPreferences) ChannelAllowed(channel NudgeChannel) bool {
	switch channel {
	case ChannelSMS:
		return p.SMSEnabled
	case ChannelVoice:
		return p.VoiceEnabled
	default:
		return false
	}
}

// Patient holds the communication-relevant view of a patient. Demographics,
// auth, and chart data live in the external patient record system.
type Patient struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Phone string `json:"phone" db:"phone"`

	Preferences         ContactPreferences `json:"preferences"`
	CommunicationPaused bool               `json:"communication_paused" db:"communication_paused"`

	// Quiet hours are local wall-clock bounds in "15:04" form. An empty or
	// equal pair means no quiet hours. Start after end denotes an overnight
	// window (e.g. 21:00–08:00).
	QuietHoursStart string `json:"quiet_hours_start,omitempty" db:"quiet_hours_start"`
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty" db:"quiet_hours_end"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// InQuietHours reports whether now falls inside the patient's quiet hours.
func (p *Patient) InQuietHours(now time.Time) bool {
	start, okStart := parseWallClock(p.QuietHoursStart)
	end, okEnd := parseWallClock(p.QuietHoursEnd)
	if !okStart || !okEnd || start == end {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	// Overnight window.
	return minute >= start || minute < end
}

func parseWallClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
