// Package timeq provides the time-slot queue holding pending job instances
// ordered by trigger time.
//
// The queue is time-bucketed: instances land in millisecond slots, a small
// ordered structure tracks slot keys, and a reverse instance→slot index
// makes arbitrary removal O(1). Removal by id never scans — cancellation
// and partition loss purge whole swaths of instances, and a linear scan per
// removal would make that quadratic.
//
// Not safe for concurrent use. The owning scheduler confines it to its
// mailbox goroutine.
package timeq

import (
	"container/heap"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/id"
)

// Queue is a removable, time-ordered queue of pending instance ids.
type Queue struct {
	slots map[int64]map[id.InstanceID]struct{}
	index map[id.InstanceID]int64
	keys  keyHeap // slot keys; stale entries are skipped lazily
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		slots: make(map[int64]map[id.InstanceID]struct{}),
		index: make(map[id.InstanceID]int64),
	}
}

// Len returns the number of queued instances.
func (q *Queue) Len() int { return len(q.index) }

// Contains reports whether the instance is queued.
func (q *Queue) Contains(instID id.InstanceID) bool {
	_, ok := q.index[instID]
	return ok
}

// Push queues the instance at its trigger time. Pushing an already-queued
// instance moves it to the new time.
func (q *Queue) Push(instID id.InstanceID, at time.Time) {
	if _, ok := q.index[instID]; ok {
		q.Remove(instID)
	}

	key := at.UnixMilli()
	slot, ok := q.slots[key]
	if !ok {
		slot = make(map[id.InstanceID]struct{})
		q.slots[key] = slot
		heap.Push(&q.keys, key)
	}
	slot[instID] = struct{}{}
	q.index[instID] = key
}

// Remove drops the instance from the queue in O(1). Returns false when the
// instance is not queued. Emptied slots leave a stale key behind; PeekMin
// and PopDue skip those lazily.
func (q *Queue) Remove(instID id.InstanceID) bool {
	key, ok := q.index[instID]
	if !ok {
		return false
	}
	delete(q.index, instID)

	slot := q.slots[key]
	delete(slot, instID)
	if len(slot) == 0 {
		delete(q.slots, key)
	}
	return true
}

// PeekMin returns the earliest pending trigger time. The bool is false when
// the queue is empty.
func (q *Queue) PeekMin() (time.Time, bool) {
	key, ok := q.minKey()
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(key), true
}

// PopDue removes and returns every instance whose trigger time is at or
// before now, in non-decreasing trigger-time order.
func (q *Queue) PopDue(now time.Time) []id.InstanceID {
	cutoff := now.UnixMilli()

	var due []id.InstanceID
	for {
		key, ok := q.minKey()
		if !ok || key > cutoff {
			return due
		}
		heap.Pop(&q.keys)
		for instID := range q.slots[key] {
			due = append(due, instID)
			delete(q.index, instID)
		}
		delete(q.slots, key)
	}
}

// minKey returns the earliest live slot key, discarding stale heap entries.
func (q *Queue) minKey() (int64, bool) {
	for q.keys.Len() > 0 {
		key := q.keys[0]
		if _, live := q.slots[key]; live {
			return key, true
		}
		heap.Pop(&q.keys)
	}
	return 0, false
}

// keyHeap is a min-heap of slot keys.
type keyHeap []int64

func (h keyHeap) Len() int            { return len(h) }
func (h keyHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h keyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *keyHeap) Push(x any)         { *h = append(*h, x.(int64)) }
func (h *keyHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
