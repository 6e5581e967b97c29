// Package datapillar implements the decentralized job-scheduling core that
// runs inside each Datapillar worker process.
//
// Every worker owns a set of partitions ("buckets") of pending job instances.
// A logically single-threaded Scheduler per shard keeps a time-ordered trigger
// queue, resolves cross-partition dependencies through replicated caches, and
// splits sharded jobs by optimistically claiming contiguous offset ranges
// against a conflict-free replicated map.
//
// # Architecture
//
// The root package provides the Node — the per-process coordinator that wires
// together the shared timer service, the partition lease manager, the status
// batch writer, the capacity manager, and one sched.Scheduler per owned shard.
//
// State is split three ways:
//
//   - Scheduler-owned state (trigger queue, instance indices) is confined to
//     one goroutine per scheduler; async completions re-enter its mailbox as
//     messages, so no locks are needed.
//   - Replicated state (leases, shard-range claims, terminal statuses, the
//     high-water mark, worker capacities) lives behind the replica contracts
//     and merges conflict-free: disjoint-key claims or last-writer-wins.
//   - Durable state (definitions, instances, status history) lives behind
//     job.Store and is only ever touched asynchronously.
//
// # Quick start
//
//	node, err := datapillar.NewNode(
//	    datapillar.WithDurableStore(pg),
//	    datapillar.WithReplicaSet(rep),
//	    datapillar.WithExecutor(execUnit),
//	    datapillar.WithShardCount(4),
//	)
//	if err != nil { ... }
//	if err := node.Start(ctx); err != nil { ... }
//	defer node.Stop(ctx)
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers. Bucket ids are plain integers.
package datapillar
