package redis

import "strconv"

// Redis key naming conventions for replicated scheduling state.
// All keys are prefixed with "datapillar:" to avoid collisions.

const keyPrefix = "datapillar:"

// ── Lease keys ──

// leaseKey holds the worker id of a bucket's lease holder with a TTL:
// datapillar:lease:{bucket}
func leaseKey(bucket int) string {
	return keyPrefix + "lease:" + strconv.Itoa(bucket)
}

// ── Shard-range keys ──

// rangeKey holds one claimed range, keyed by its start offset so claims on
// disjoint keys never conflict: datapillar:range:{instance}:{start}
func rangeKey(instID string, start int64) string {
	return keyPrefix + "range:" + instID + ":" + strconv.FormatInt(start, 10)
}

// rangeIndexKey is the Set of claimed start offsets per instance.
func rangeIndexKey(instID string) string {
	return keyPrefix + "range_idx:" + instID
}

// cursorKey holds the next-unclaimed-offset cursor per instance.
func cursorKey(instID string) string {
	return keyPrefix + "cursor:" + instID
}

// ── Status / watermark / capacity keys ──

// statusesKey is the Hash mapping instance id to its replicated status.
const statusesKey = keyPrefix + "statuses"

// watermarkKey holds the max known instance id (K-sortable, so lexical
// compare is id order).
const watermarkKey = keyPrefix + "watermark"

// capacitiesKey is the Hash mapping worker id to its published capacity.
const capacitiesKey = keyPrefix + "capacities"
