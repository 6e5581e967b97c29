package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/SunnyX6/Datapillar-sub003/id"
)

// renewScript extends the TTL only while the caller still holds the lease.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// AcquireLease CAS-acquires the bucket with SET NX + TTL. Re-acquiring a
// lease this worker already holds refreshes the TTL and succeeds.
func (s *Store) AcquireLease(ctx context.Context, bucket int, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	key := leaseKey(bucket)
	wid := workerID.String()

	ok, err := s.client.SetNX(ctx, key, wid, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("datapillar/redis: acquire lease: %w", err)
	}
	if ok {
		return true, nil
	}

	// Taken: ours (refresh) or someone else's (lose).
	n, err := renewScript.Run(ctx, s.client, []string{key}, wid, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("datapillar/redis: acquire lease refresh: %w", err)
	}
	return n == 1, nil
}

// RenewLeases extends every lease the worker still holds and returns the
// buckets it lost.
func (s *Store) RenewLeases(ctx context.Context, buckets []int, workerID id.WorkerID, ttl time.Duration) ([]int, error) {
	wid := workerID.String()
	var lost []int
	for _, bucket := range buckets {
		n, err := renewScript.Run(ctx, s.client, []string{leaseKey(bucket)}, wid, ttl.Milliseconds()).Int()
		if err != nil {
			return nil, fmt.Errorf("datapillar/redis: renew lease %d: %w", bucket, err)
		}
		if n == 0 {
			lost = append(lost, bucket)
		}
	}
	return lost, nil
}

// LeaseHolder returns the worker currently holding the bucket, or id.Nil.
func (s *Store) LeaseHolder(ctx context.Context, bucket int) (id.WorkerID, error) {
	val, err := s.client.Get(ctx, leaseKey(bucket)).Result()
	if errors.Is(err, goredis.Nil) {
		return id.Nil, nil
	}
	if err != nil {
		return id.Nil, fmt.Errorf("datapillar/redis: lease holder: %w", err)
	}
	wid, err := id.ParseWorkerID(val)
	if err != nil {
		return id.Nil, fmt.Errorf("datapillar/redis: lease holder: %w", err)
	}
	return wid, nil
}
