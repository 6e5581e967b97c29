// Package replica defines the replicated-state contracts shared by every
// worker: partition leases, shard-range claims, cross-partition terminal
// statuses, the high-water mark, and worker capacities.
//
// All contracts assume eventual consistency only. Concurrent writers never
// coordinate; conflicts resolve by construction:
//
//   - Shard-range claims use one key per range start, so "at most one
//     claimer" holds structurally, not by value comparison.
//   - Terminal statuses and capacities are last-writer-wins, and each
//     worker only ever writes its own partitions' entries.
//   - The high-water mark is a monotonic max.
//   - Leases are the one CAS-style exception: acquire is atomic
//     compare-and-set with a TTL, and expiry is the sole liveness
//     mechanism.
//
// Backends live under store/: store/memory (tests, with partition/merge
// simulation) and store/redis (shared-store deployment).
package replica
