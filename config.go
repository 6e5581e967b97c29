package datapillar

import "time"

// Config holds configuration for a scheduling Node.
type Config struct {
	// ShardCount is the total number of scheduler shards in the deployment.
	// A bucket b is claimable by shard s when b mod ShardCount == s.
	ShardCount int

	// Buckets is the size of the partition space. Job instances hash into
	// [0, Buckets); the value must agree across every node in the
	// deployment.
	Buckets int

	// Shards lists the shard ids this node runs a scheduler for.
	// Defaults to every shard in [0, ShardCount).
	Shards []int

	// Concurrency is the maximum number of execution units running
	// concurrently on this node.
	Concurrency int

	// MaxInstances caps how many job instances one scheduler may hold in
	// memory. Loads beyond the cap are dropped, not queued.
	MaxInstances int

	// LeaseTTL is the partition lease duration. Unrenewed leases expire
	// and become claimable by other workers.
	LeaseTTL time.Duration

	// LeaseRenewInterval is how often held leases are renewed.
	// Must be comfortably below LeaseTTL.
	LeaseRenewInterval time.Duration

	// CapacityPublishInterval is how often this node writes its
	// WorkerCapacity to the replicated capacity table.
	CapacityPublishInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShardCount:              1,
		Buckets:                 64,
		Concurrency:             64,
		MaxInstances:            100_000,
		LeaseTTL:                30 * time.Second,
		LeaseRenewInterval:      10 * time.Second,
		CapacityPublishInterval: 5 * time.Second,
		ShutdownTimeout:         30 * time.Second,
	}
}
