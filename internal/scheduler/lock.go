package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const slotKeyPrefix = "carscout:visit-slot:"

// SlotLock serializes visit booking across workers using short-lived Redis
// leases. A booking leases every hour bucket its conflict buffer can touch,
// so two slots within the buffer of each other always contend on at least
// one shared bucket and only one of them can book.
type SlotLock struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewSlotLock creates a lease manager with the given lease lifetime.
func NewSlotLock(client redis.UniversalClient, ttl time.Duration) *SlotLock {
	if client == nil {
		panic("scheduler: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SlotLock{client: client, ttl: ttl}
}

// bucketKeys returns the lease keys for the hour buckets spanned by
// [slot-conflictBuffer, slot+conflictBuffer]. Keys are returned in ascending
// order so concurrent acquirers contend on the first shared bucket instead
// of livelocking.
func bucketKeys(slot time.Time) []string {
	start := slot.Add(-conflictBuffer).UTC().Truncate(time.Hour)
	end := slot.Add(conflictBuffer).UTC().Truncate(time.Hour)
	keys := make([]string, 0, 3)
	for b := start; !b.After(end); b = b.Add(time.Hour) {
		keys = append(keys, slotKeyPrefix+b.Format("2006-01-02T15"))
	}
	return keys
}

// Acquire takes the leases covering a slot's conflict buffer, all or
// nothing. Returns false when another worker holds any of them.
func (l *SlotLock) Acquire(ctx context.Context, slot time.Time) (bool, error) {
	keys := bucketKeys(slot)
	taken := make([]string, 0, len(keys))
	for _, key := range keys {
		ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
		if err != nil {
			_ = l.release(ctx, taken)
			return false, fmt.Errorf("scheduler: acquire slot lease: %w", err)
		}
		if !ok {
			if err := l.release(ctx, taken); err != nil {
				return false, err
			}
			return false, nil
		}
		taken = append(taken, key)
	}
	return true, nil
}

// Release frees the slot's leases early, used when booking falls through
// after they were taken.
func (l *SlotLock) Release(ctx context.Context, slot time.Time) error {
	return l.release(ctx, bucketKeys(slot))
}

func (l *SlotLock) release(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("scheduler: release slot lease: %w", err)
	}
	return nil
}
