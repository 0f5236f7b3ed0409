// Package memory implements the swarm's distributed memory: a CRDT-backed
// key-value store with vector-clock causality, a bounded operation log for
// anti-entropy sync, tombstoned deletes, and timer-driven garbage collection.
//
// Six CRDT variants are supported (grow-only counter, positive-negative
// counter, grow-only set, two-phase set, last-write-wins register and
// observed-remove set). All merges are commutative, associative and
// idempotent, so replicas converge regardless of delivery order.
package memory
