package repositories

import (
	"context"
	"time"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// NudgeRepository defines the interface for engagement action persistence.
// Claim and Finalize are compare-and-swap transitions so concurrent
// dispatcher passes can never release the same action twice.
type NudgeRepository interface {
	// CreateBatch persists a batch of nudges in pending_approval
	CreateBatch(ctx context.Context, nudges []*entities.Nudge) error

	// ListQueuedDue retrieves queued nudges scheduled at or before now,
	// oldest first, up to limit
	ListQueuedDue(ctx context.Context, now time.Time, limit int) ([]*entities.Nudge, error)

	// Claim transitions queued → dispatching. Returns false when the nudge
	// was not in queued (another pass claimed it first)
	Claim(ctx context.Context, id string) (bool, error)

	// Release transitions dispatching → queued, used when a gate blocks the
	// send so the nudge is re-evaluated next pass
	Release(ctx context.Context, id string) error

	// Finalize transitions dispatching → sent/skipped/failed with an
	// optional failure reason
	Finalize(ctx context.Context, id string, status entities.NudgeStatus, reason string, sentAt *time.Time) error

	// ReleaseStale re-queues dispatching nudges claimed before the cutoff,
	// recovering claims orphaned by a crashed dispatcher
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)

	// QueueForPlan transitions a plan's pending_approval nudges to queued
	QueueForPlan(ctx context.Context, planID string) error

	// SkipForPlan transitions a plan's unsent nudges to skipped, used when
	// the plan is superseded
	SkipForPlan(ctx context.Context, planID string) error

	// ListByPlan retrieves all nudges attached to a plan
	ListByPlan(ctx context.Context, planID string) ([]*entities.Nudge, error)
}
