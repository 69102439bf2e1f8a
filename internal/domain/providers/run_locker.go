package providers

import (
	"context"
	"time"
)

// RunLocker serializes workflow runs per patient. The lock must be backed by
// an atomic conditional update in a store that survives process restarts,
// and release must be token-checked so an expired holder cannot free a lock
// someone else now owns.
type RunLocker interface {
	// Acquire takes the patient's run lock for at most ttl. Returns a
	// release token, or ok=false when another run holds the lock
	Acquire(ctx context.Context, patientID string, ttl time.Duration) (token string, ok bool, err error)

	// Release frees the lock if token still owns it
	Release(ctx context.Context, patientID string, token string) error
}
