package services

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/internal/domain/providers"
	"github.com/klenai/stonecare/internal/domain/repositories"
	"github.com/klenai/stonecare/internal/infrastructure/observability"
	"github.com/klenai/stonecare/pkg/config"
)

// DispatchStats summarizes one dispatcher pass.
type DispatchStats struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
}

// NudgeDispatcher releases due engagement actions. Each pass is idempotent:
// actions are claimed with a compare-and-swap transition, so concurrent
// passes resolve every nudge to exactly one outcome. Blocked actions stay
// queued and are re-evaluated next pass.
type NudgeDispatcher struct {
	nudges   repositories.NudgeRepository
	plans    repositories.PlanRepository
	patients repositories.PatientRepository
	sender   providers.MessageSender
	breaker  *gobreaker.CircuitBreaker
	metrics  *observability.Metrics
	cfg      config.DispatchConfig
	now      func() time.Time
}

// NewNudgeDispatcher creates a nudge dispatcher
func NewNudgeDispatcher(
	nudges repositories.NudgeRepository,
	plans repositories.PlanRepository,
	patients repositories.PatientRepository,
	sender providers.MessageSender,
	metrics *observability.Metrics,
	cfg config.DispatchConfig,
) *NudgeDispatcher {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 5 * time.Minute
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nudge-transport",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &NudgeDispatcher{
		nudges:   nudges,
		plans:    plans,
		patients: patients,
		sender:   sender,
		breaker:  breaker,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// DispatchDue processes every queued nudge whose scheduled time has passed.
func (d *NudgeDispatcher) DispatchDue(ctx context.Context) (DispatchStats, error) {
	stats := DispatchStats{}
	now := d.now().UTC()

	// Recover claims orphaned by a dispatcher that died mid-pass.
	stale, err := d.nudges.ReleaseStale(ctx, now.Add(-d.cfg.ClaimTimeout))
	if err != nil {
		return stats, err
	}
	if stale > 0 {
		observability.LoggerFromContext(ctx).Warn().
			Int("count", stale).Msg("re-queued stale nudge claims")
	}

	due, err := d.nudges.ListQueuedDue(ctx, now, d.cfg.BatchLimit)
	if err != nil {
		return stats, err
	}

	for _, nudge := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		outcome, err := d.dispatchOne(ctx, nudge, now)
		if err != nil {
			observability.LoggerFromContext(ctx).Error().Err(err).
				Str("nudge_id", nudge.ID).Msg("dispatch pass error")
			continue
		}
		switch outcome {
		case entities.NudgeStatusSent:
			stats.Sent++
		case entities.NudgeStatusSkipped:
			stats.Skipped++
		case entities.NudgeStatusFailed:
			stats.Failed++
		case entities.NudgeStatusQueued:
			stats.Blocked++
		}
	}
	return stats, nil
}

// dispatchOne claims a nudge and resolves it to one outcome. The returned
// status is the nudge's terminal state for this pass; NudgeStatusQueued means
// a gate blocked the send and the nudge was released for the next pass.
// An empty status means another pass claimed the nudge first.
func (d *NudgeDispatcher) dispatchOne(ctx context.Context, nudge *entities.Nudge, now time.Time) (entities.NudgeStatus, error) {
	claimed, err := d.nudges.Claim(ctx, nudge.ID)
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", nil
	}

	// Gate 1: the owning plan must be approved.
	plan, err := d.plans.GetByID(ctx, nudge.PlanID)
	if err != nil {
		observability.LoggerFromContext(ctx).Error().Err(err).
			Str("nudge_id", nudge.ID).Str("plan_id", nudge.PlanID).
			Msg("plan lookup failed, nudge released")
		return "", d.releaseWith(ctx, nudge, "plan_lookup")
	}
	switch plan.Status {
	case entities.PlanStatusSuperseded:
		if err := d.nudges.Finalize(ctx, nudge.ID, entities.NudgeStatusSkipped, "plan superseded", nil); err != nil {
			return "", err
		}
		observability.RecordDispatchMetric(ctx, d.metrics, string(entities.NudgeStatusSkipped))
		return entities.NudgeStatusSkipped, nil
	case entities.PlanStatusApproved:
		// fall through to the patient gates
	default:
		return entities.NudgeStatusQueued, d.releaseWith(ctx, nudge, "plan_not_approved")
	}

	patient, err := d.patients.GetByID(ctx, nudge.PatientID)
	if err != nil {
		observability.LoggerFromContext(ctx).Error().Err(err).
			Str("nudge_id", nudge.ID).Str("patient_id", nudge.PatientID).
			Msg("patient lookup failed, nudge released")
		return "", d.releaseWith(ctx, nudge, "patient_lookup")
	}

	// Gate 2: communication not paused.
	if patient.CommunicationPaused {
		return entities.NudgeStatusQueued, d.releaseWith(ctx, nudge, "communication_paused")
	}
	// Gate 3: channel preference.
	if !patient.Preferences.ChannelAllowed(nudge.Channel) {
		return entities.NudgeStatusQueued, d.releaseWith(ctx, nudge, "channel_disabled")
	}
	// Gate 4: quiet hours.
	if patient.InQuietHours(now) {
		return entities.NudgeStatusQueued, d.releaseWith(ctx, nudge, "quiet_hours")
	}

	return d.send(ctx, nudge, patient, now)
}

func (d *NudgeDispatcher) send(ctx context.Context, nudge *entities.Nudge, patient *entities.Patient, now time.Time) (entities.NudgeStatus, error) {
	_, sendErr := d.breaker.Execute(func() (interface{}, error) {
		switch nudge.Channel {
		case entities.ChannelVoice:
			return nil, d.sender.StartCall(ctx, patient.Phone, nudge.Message)
		default:
			return nil, d.sender.SendSMS(ctx, patient.Phone, nudge.Message)
		}
	})

	if sendErr == gobreaker.ErrOpenState || sendErr == gobreaker.ErrTooManyRequests {
		// The breaker rejected the dispatch before a send was attempted.
		// That is a blocked dispatch, not a transport failure: release the
		// nudge so a later pass retries it once the circuit closes.
		observability.LoggerFromContext(ctx).Warn().Err(sendErr).
			Str("nudge_id", nudge.ID).
			Msg("transport circuit open, nudge released")
		return entities.NudgeStatusQueued, d.releaseWith(ctx, nudge, "circuit_open")
	}

	if sendErr != nil {
		// Transport failure is terminal for this nudge; there is no
		// automatic retry.
		if err := d.nudges.Finalize(ctx, nudge.ID, entities.NudgeStatusFailed, sendErr.Error(), nil); err != nil {
			return "", err
		}
		observability.RecordDispatchMetric(ctx, d.metrics, string(entities.NudgeStatusFailed))
		observability.LoggerFromContext(ctx).Warn().Err(sendErr).
			Str("nudge_id", nudge.ID).Str("template", nudge.Template).
			Msg("nudge delivery failed")
		return entities.NudgeStatusFailed, nil
	}

	sentAt := now
	if err := d.nudges.Finalize(ctx, nudge.ID, entities.NudgeStatusSent, "", &sentAt); err != nil {
		return "", err
	}
	observability.RecordDispatchMetric(ctx, d.metrics, string(entities.NudgeStatusSent))
	observability.LoggerFromContext(ctx).Info().
		Str("nudge_id", nudge.ID).Str("template", nudge.Template).
		Str("channel", string(nudge.Channel)).
		Msg("nudge sent")
	return entities.NudgeStatusSent, nil
}

func (d *NudgeDispatcher) releaseWith(ctx context.Context, nudge *entities.Nudge, gate string) error {
	observability.RecordDispatchBlocked(ctx, d.metrics, gate)
	return d.nudges.Release(ctx, nudge.ID)
}
