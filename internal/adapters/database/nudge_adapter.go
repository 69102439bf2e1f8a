package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/internal/domain/repositories"
	"github.com/klenai/stonecare/internal/infrastructure/clients/postgres"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// NudgeAdapter implements the NudgeRepository interface. Every status
// transition is a conditional update keyed on the previous status, so two
// dispatcher passes racing on the same nudge resolve to exactly one winner.
type NudgeAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewNudgeAdapter creates a new nudge adapter
func NewNudgeAdapter(client *postgres.Client) repositories.NudgeRepository {
	return &NudgeAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// CreateBatch persists a batch of nudges in pending_approval
func (a *NudgeAdapter) CreateBatch(ctx context.Context, nudges []*entities.Nudge) error {
	if len(nudges) == 0 {
		return nil
	}

	records := make([]interface{}, 0, len(nudges))
	for _, nudge := range nudges {
		records = append(records, goqu.Record{
			"id":            nudge.ID,
			"plan_id":       nudge.PlanID,
			"patient_id":    nudge.PatientID,
			"scheduled_for": nudge.ScheduledFor,
			"channel":       nudge.Channel,
			"template":      nudge.Template,
			"message":       nudge.Message,
			"status":        entities.NudgeStatusPendingApproval,
			"created_at":    nudge.CreatedAt,
		})
	}

	query, args, err := a.db.Insert("nudges").Rows(records...).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create nudges", err)
	}
	return nil
}

// ListQueuedDue retrieves queued nudges scheduled at or before now
func (a *NudgeAdapter) ListQueuedDue(ctx context.Context, now time.Time, limit int) ([]*entities.Nudge, error) {
	if limit <= 0 {
		limit = 100
	}
	query, args, err := a.nudgeSelect().
		Where(goqu.Ex{"status": entities.NudgeStatusQueued}).
		Where(goqu.C("scheduled_for").Lte(now)).
		Order(goqu.I("scheduled_for").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}
	return a.queryNudges(ctx, query, args...)
}

// Claim transitions queued → dispatching and stamps the claim time so
// orphaned claims can be swept later
func (a *NudgeAdapter) Claim(ctx context.Context, id string) (bool, error) {
	res, err := a.client.DB().ExecContext(ctx,
		`UPDATE nudges SET status = $1, claimed_at = NOW() WHERE id = $2 AND status = $3`,
		entities.NudgeStatusDispatching, id, entities.NudgeStatusQueued,
	)
	if err != nil {
		return false, apperrors.NewInternalError("failed to claim nudge", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternalError("failed to read rows affected", err)
	}
	return affected == 1, nil
}

// Release transitions dispatching → queued
func (a *NudgeAdapter) Release(ctx context.Context, id string) error {
	_, err := a.client.DB().ExecContext(ctx,
		`UPDATE nudges SET status = $1, claimed_at = NULL WHERE id = $2 AND status = $3`,
		entities.NudgeStatusQueued, id, entities.NudgeStatusDispatching,
	)
	if err != nil {
		return apperrors.NewInternalError("failed to release nudge", err)
	}
	return nil
}

// ReleaseStale re-queues dispatching nudges claimed before the cutoff. A
// claim left in dispatching past the cutoff means the owning pass died
// before it could finalize or release.
func (a *NudgeAdapter) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := a.client.DB().ExecContext(ctx,
		`UPDATE nudges SET status = $1, claimed_at = NULL WHERE status = $2 AND claimed_at <= $3`,
		entities.NudgeStatusQueued, entities.NudgeStatusDispatching, cutoff,
	)
	if err != nil {
		return 0, apperrors.NewInternalError("failed to release stale nudges", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to read rows affected", err)
	}
	return int(affected), nil
}

// Finalize transitions dispatching → sent/skipped/failed
func (a *NudgeAdapter) Finalize(ctx context.Context, id string, status entities.NudgeStatus, reason string, sentAt *time.Time) error {
	res, err := a.client.DB().ExecContext(ctx, `
		UPDATE nudges
		SET status = $1, failure_reason = $2, sent_at = $3, claimed_at = NULL
		WHERE id = $4 AND status = $5`,
		status, reason, sentAt, id, entities.NudgeStatusDispatching,
	)
	if err != nil {
		return apperrors.NewInternalError("failed to finalize nudge", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to read rows affected", err)
	}
	if affected == 0 {
		return apperrors.NewConflictError("nudge is not being dispatched")
	}
	return nil
}

// QueueForPlan transitions a plan's pending_approval nudges to queued
func (a *NudgeAdapter) QueueForPlan(ctx context.Context, planID string) error {
	_, err := a.client.DB().ExecContext(ctx,
		`UPDATE nudges SET status = $1 WHERE plan_id = $2 AND status = $3`,
		entities.NudgeStatusQueued, planID, entities.NudgeStatusPendingApproval,
	)
	if err != nil {
		return apperrors.NewInternalError("failed to queue nudges", err)
	}
	return nil
}

// SkipForPlan transitions a plan's unsent nudges to skipped
func (a *NudgeAdapter) SkipForPlan(ctx context.Context, planID string) error {
	_, err := a.client.DB().ExecContext(ctx,
		`UPDATE nudges SET status = $1 WHERE plan_id = $2 AND status IN ($3, $4)`,
		entities.NudgeStatusSkipped, planID,
		entities.NudgeStatusPendingApproval, entities.NudgeStatusQueued,
	)
	if err != nil {
		return apperrors.NewInternalError("failed to skip nudges", err)
	}
	return nil
}

// ListByPlan retrieves all nudges attached to a plan
func (a *NudgeAdapter) ListByPlan(ctx context.Context, planID string) ([]*entities.Nudge, error) {
	query, args, err := a.nudgeSelect().
		Where(goqu.Ex{"plan_id": planID}).
		Order(goqu.I("scheduled_for").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}
	return a.queryNudges(ctx, query, args...)
}

func (a *NudgeAdapter) nudgeSelect() *goqu.SelectDataset {
	return a.db.Select(
		"id", "plan_id", "patient_id", "scheduled_for", "channel",
		"template", "message", "status", "failure_reason", "sent_at",
		"created_at",
	).From("nudges")
}

func (a *NudgeAdapter) queryNudges(ctx context.Context, query string, args ...interface{}) ([]*entities.Nudge, error) {
	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query nudges", err)
	}
	defer rows.Close()

	var nudges []*entities.Nudge
	for rows.Next() {
		nudge := &entities.Nudge{}
		var failureReason sql.NullString
		var sentAt sql.NullTime

		err := rows.Scan(
			&nudge.ID,
			&nudge.PlanID,
			&nudge.PatientID,
			&nudge.ScheduledFor,
			&nudge.Channel,
			&nudge.Template,
			&nudge.Message,
			&nudge.Status,
			&failureReason,
			&sentAt,
			&nudge.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan nudge", err)
		}

		nudge.FailureReason = failureReason.String
		if sentAt.Valid {
			nudge.SentAt = &sentAt.Time
		}
		nudges = append(nudges, nudge)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate nudges", err)
	}
	return nudges, nil
}
