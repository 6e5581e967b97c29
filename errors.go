package datapillar

import "errors"

var (
	// Wiring errors.
	ErrNoStore    = errors.New("datapillar: no durable store configured")
	ErrNoReplica  = errors.New("datapillar: no replica set configured")
	ErrNoExecutor = errors.New("datapillar: no executor configured")

	// Not found errors, wrapped by the store backends.
	ErrInstanceNotFound   = errors.New("datapillar: job instance not found")
	ErrDefinitionNotFound = errors.New("datapillar: job definition not found")

	// Lifecycle errors.
	ErrNodeStarted = errors.New("datapillar: node already started")
	ErrNodeStopped = errors.New("datapillar: node stopped")
)
