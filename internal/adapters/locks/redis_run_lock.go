package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/klenai/stonecare/internal/domain/providers"
)

// releaseScript deletes the lock only when it still holds our token, so an
// expired lock re-acquired by another run is never released by the first.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisRunLock serializes workflow runs per patient using SET NX with a TTL.
type RedisRunLock struct {
	client  *redis.Client
	release *redis.Script
}

var _ providers.RunLocker = (*RedisRunLock)(nil)

func NewRedisRunLock(client *redis.Client) *RedisRunLock {
	return &RedisRunLock{
		client:  client,
		release: redis.NewScript(releaseScript),
	}
}

func runLockKey(patientID string) string {
	return fmt.Sprintf("stonecare:run_lock:%s", patientID)
}

// Acquire takes the per-patient run lock. It returns ok=false without error
// when another run already holds the lock.
func (l *RedisRunLock) Acquire(ctx context.Context, patientID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, runLockKey(patientID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if the token still matches.
func (l *RedisRunLock) Release(ctx context.Context, patientID string, token string) error {
	if err := l.release.Run(ctx, l.client, []string{runLockKey(patientID)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("releasing run lock: %w", err)
	}
	return nil
}
