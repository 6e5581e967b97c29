package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/replica"
)

// maxScript raises an integer key to the given value, never lowering it.
var maxScript = goredis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "-1")
local val = tonumber(ARGV[1])
if val > cur then
	redis.call("SET", KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// rangeEntry is the msgpack wire form of one claimed range.
type rangeEntry struct {
	Start     int64     `msgpack:"start"`
	End       int64     `msgpack:"end"`
	State     string    `msgpack:"state"`
	WorkerID  string    `msgpack:"worker_id"`
	ClaimedAt time.Time `msgpack:"claimed_at"`
}

// NextStart reads the shared next-unclaimed-offset cursor.
func (s *Store) NextStart(ctx context.Context, instID id.InstanceID) (int64, error) {
	val, err := s.client.Get(ctx, cursorKey(instID.String())).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("datapillar/redis: next start: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("datapillar/redis: next start: %w", err)
	}
	return n, nil
}

// TryMarkProcessing atomically claims [start, end) with SETNX on the
// range's own key. Disjoint keys per range make at-most-one-claimer hold
// by construction.
func (s *Store) TryMarkProcessing(ctx context.Context, instID id.InstanceID, start, end int64, workerID id.WorkerID) (bool, error) {
	inst := instID.String()
	entry, err := msgpack.Marshal(rangeEntry{
		Start:     start,
		End:       end,
		State:     string(replica.RangeProcessing),
		WorkerID:  workerID.String(),
		ClaimedAt: time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("datapillar/redis: mark processing encode: %w", err)
	}

	ok, err := s.client.SetNX(ctx, rangeKey(inst, start), entry, 0).Result()
	if err != nil {
		return false, fmt.Errorf("datapillar/redis: mark processing: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := s.client.SAdd(ctx, rangeIndexKey(inst), strconv.FormatInt(start, 10)).Err(); err != nil {
		return false, fmt.Errorf("datapillar/redis: mark processing index: %w", err)
	}
	return true, nil
}

// UpdateNextStart advances the cursor. Stale writes below the current
// value are ignored.
func (s *Store) UpdateNextStart(ctx context.Context, instID id.InstanceID, next int64) error {
	err := maxScript.Run(ctx, s.client, []string{cursorKey(instID.String())}, next).Err()
	if err != nil {
		return fmt.Errorf("datapillar/redis: update next start: %w", err)
	}
	return nil
}

// MarkRangeCompleted transitions the claim at start to completed.
func (s *Store) MarkRangeCompleted(ctx context.Context, instID id.InstanceID, start int64) error {
	return s.setRangeState(ctx, instID, start, replica.RangeCompleted)
}

// MarkRangeFailed transitions the claim at start to failed.
func (s *Store) MarkRangeFailed(ctx context.Context, instID id.InstanceID, start int64) error {
	return s.setRangeState(ctx, instID, start, replica.RangeFailed)
}

func (s *Store) setRangeState(ctx context.Context, instID id.InstanceID, start int64, state replica.RangeState) error {
	key := rangeKey(instID.String(), start)
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return fmt.Errorf("datapillar/redis: set range state: range %d of %s not claimed", start, instID)
	}
	if err != nil {
		return fmt.Errorf("datapillar/redis: set range state: %w", err)
	}
	var entry rangeEntry
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		return fmt.Errorf("datapillar/redis: set range state decode: %w", err)
	}
	entry.State = string(state)
	out, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("datapillar/redis: set range state encode: %w", err)
	}
	if err := s.client.Set(ctx, key, out, 0).Err(); err != nil {
		return fmt.Errorf("datapillar/redis: set range state: %w", err)
	}
	return nil
}

// ListRanges returns every recorded range, ordered by start offset.
func (s *Store) ListRanges(ctx context.Context, instID id.InstanceID) ([]replica.Range, error) {
	inst := instID.String()
	starts, err := s.client.SMembers(ctx, rangeIndexKey(inst)).Result()
	if err != nil {
		return nil, fmt.Errorf("datapillar/redis: list ranges: %w", err)
	}
	if len(starts) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(starts))
	for _, raw := range starts {
		start, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("datapillar/redis: list ranges index: %w", perr)
		}
		keys = append(keys, rangeKey(inst, start))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("datapillar/redis: list ranges: %w", err)
	}

	out := make([]replica.Range, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // claimed but entry gone; skip
		}
		var entry rangeEntry
		if err := msgpack.Unmarshal([]byte(str), &entry); err != nil {
			return nil, fmt.Errorf("datapillar/redis: list ranges decode: %w", err)
		}
		r := replica.Range{
			Start:     entry.Start,
			End:       entry.End,
			State:     replica.RangeState(entry.State),
			ClaimedAt: entry.ClaimedAt,
		}
		if entry.WorkerID != "" {
			wid, perr := id.ParseWorkerID(entry.WorkerID)
			if perr == nil {
				r.WorkerID = wid
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}
