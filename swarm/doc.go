// Package swarm is the coordination façade. A Coordinator composes the
// topology manager, consensus engine, distributed memory, communication hub,
// and behavior engine behind one external surface: membership, task
// assignment, resistance drills, status/metrics aggregation, and state
// export/import.
package swarm
