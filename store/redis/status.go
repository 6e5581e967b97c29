package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
	"github.com/SunnyX6/Datapillar-sub003/replica"
)

// lexMaxScript raises a string key lexically, never lowering it. Instance
// ids are K-sortable, so lexical order is id order.
var lexMaxScript = goredis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false or ARGV[1] > cur then
	redis.call("SET", KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// statusEntry is the msgpack wire form of one cached status.
type statusEntry struct {
	Status string    `msgpack:"status"`
	At     time.Time `msgpack:"at"`
}

// InstanceStatus returns the replicated status of an instance. A missing
// entry is (found=false), never an error.
func (s *Store) InstanceStatus(ctx context.Context, instID id.InstanceID) (job.Status, bool, error) {
	raw, err := s.client.HGet(ctx, statusesKey, instID.String()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("datapillar/redis: instance status: %w", err)
	}
	var entry statusEntry
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		return "", false, fmt.Errorf("datapillar/redis: instance status decode: %w", err)
	}
	return job.Status(entry.Status), true, nil
}

// PutStatuses publishes a batch of status transitions in one pipeline.
// Statuses only move forward, so plain overwrite is safe here — Redis
// serializes the writers.
func (s *Store) PutStatuses(ctx context.Context, changes []job.StatusChange) error {
	if len(changes) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, c := range changes {
		entry, err := msgpack.Marshal(statusEntry{Status: string(c.Status), At: c.At})
		if err != nil {
			return fmt.Errorf("datapillar/redis: put statuses encode: %w", err)
		}
		pipe.HSet(ctx, statusesKey, c.InstanceID.String(), entry)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("datapillar/redis: put statuses: %w", err)
	}
	return nil
}

// HighWaterMark returns the max known instance id, or id.Nil when unset.
func (s *Store) HighWaterMark(ctx context.Context) (id.InstanceID, error) {
	val, err := s.client.Get(ctx, watermarkKey).Result()
	if errors.Is(err, goredis.Nil) {
		return id.Nil, nil
	}
	if err != nil {
		return id.Nil, fmt.Errorf("datapillar/redis: high-water mark: %w", err)
	}
	mark, err := id.ParseInstanceID(val)
	if err != nil {
		return id.Nil, fmt.Errorf("datapillar/redis: high-water mark: %w", err)
	}
	return mark, nil
}

// AdvanceHighWaterMark raises the mark to candidate if greater.
func (s *Store) AdvanceHighWaterMark(ctx context.Context, candidate id.InstanceID) (bool, error) {
	n, err := lexMaxScript.Run(ctx, s.client, []string{watermarkKey}, candidate.String()).Int()
	if err != nil {
		return false, fmt.Errorf("datapillar/redis: advance high-water mark: %w", err)
	}
	return n == 1, nil
}

// capacityEntry is the msgpack wire form of one published capacity.
type capacityEntry struct {
	WorkerID       string    `msgpack:"worker_id"`
	Addr           string    `msgpack:"addr"`
	MaxConcurrency int       `msgpack:"max_concurrency"`
	Running        int       `msgpack:"running"`
	UpdatedAt      time.Time `msgpack:"updated_at"`
}

// PublishCapacity writes the worker's capacity entry, last writer wins.
func (s *Store) PublishCapacity(ctx context.Context, c replica.Capacity) error {
	entry, err := msgpack.Marshal(capacityEntry{
		WorkerID:       c.WorkerID.String(),
		Addr:           c.Addr,
		MaxConcurrency: c.MaxConcurrency,
		Running:        c.Running,
		UpdatedAt:      c.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("datapillar/redis: publish capacity encode: %w", err)
	}
	if err := s.client.HSet(ctx, capacitiesKey, c.WorkerID.String(), entry).Err(); err != nil {
		return fmt.Errorf("datapillar/redis: publish capacity: %w", err)
	}
	return nil
}

// ListCapacities returns every worker's latest published capacity.
func (s *Store) ListCapacities(ctx context.Context) ([]replica.Capacity, error) {
	vals, err := s.client.HGetAll(ctx, capacitiesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("datapillar/redis: list capacities: %w", err)
	}
	out := make([]replica.Capacity, 0, len(vals))
	for _, raw := range vals {
		var entry capacityEntry
		if err := msgpack.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("datapillar/redis: list capacities decode: %w", err)
		}
		c := replica.Capacity{
			Addr:           entry.Addr,
			MaxConcurrency: entry.MaxConcurrency,
			Running:        entry.Running,
			UpdatedAt:      entry.UpdatedAt,
		}
		if wid, perr := id.ParseWorkerID(entry.WorkerID); perr == nil {
			c.WorkerID = wid
		}
		out = append(out, c)
	}
	return out, nil
}
