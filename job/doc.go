// Package job defines the core scheduling entities — job definitions, job
// instances, status lifecycle, and the durable-store contract the scheduler
// consumes.
//
// A [Definition] describes what to run: component type, parameters, timeout,
// retry policy, and the block/route strategies applied when multiple
// instances of the same definition collide. An [Instance] is one scheduled
// occurrence of a definition: it belongs to exactly one partition (bucket),
// has a trigger time, and moves through a forward-only status lifecycle:
//
//	WAITING → RUNNING → {SUCCESS, FAIL, TIMEOUT, CANCELLED}
//
// WAITING may only be re-entered through an explicit external rerun signal;
// ordinary transitions never go backward.
//
// The [Store] interface is the boundary to relational persistence. The
// scheduler only ever calls it asynchronously; results re-enter the
// scheduler's mailbox as messages.
package job
