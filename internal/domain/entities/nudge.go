package entities

import "time"

// NudgeStatus tracks an engagement action through its lifecycle:
// pending_approval → queued → sent | skipped | failed. Dispatching is a
// transient claim state that guards against concurrent dispatcher passes.
type NudgeStatus string

const (
	NudgeStatusPendingApproval NudgeStatus = "pending_approval"
	NudgeStatusQueued          NudgeStatus = "queued"
	NudgeStatusDispatching     NudgeStatus = "dispatching"
	NudgeStatusSent            NudgeStatus = "sent"
	NudgeStatusSkipped         NudgeStatus = "skipped"
	NudgeStatusFailed          NudgeStatus = "failed"
)

// NudgeChannel is the outbound channel for an engagement action.
type NudgeChannel string

const (
	ChannelSMS   NudgeChannel = "sms"
	ChannelVoice NudgeChannel = "voice"
)

// Nudge is a scheduled outbound engagement action tied to a plan version.
// It is created alongside the plan in pending_approval and only released
// for dispatch once the plan is approved.
type Nudge struct {
	ID           string       `json:"id" db:"id"`
	PlanID       string       `json:"plan_id" db:"plan_id"`
	PatientID    string       `json:"patient_id" db:"patient_id"`
	ScheduledFor time.Time    `json:"scheduled_for" db:"scheduled_for"`
	Channel      NudgeChannel `json:"channel" db:"channel"`
	Template     string       `json:"template" db:"template"`
	Message      string       `json:"message" db:"message"`
	Status       NudgeStatus  `json:"status" db:"status"`

	FailureReason string     `json:"failure_reason,omitempty" db:"failure_reason"`
	SentAt        *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
