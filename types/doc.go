// Package types defines the shared data model for the swarm coordination
// substrate: agents, tasks, and the unified error type.
//
// The types package is the lowest-level package with no internal dependencies,
// so placing these definitions here avoids circular imports between the
// topology, consensus, memory, communication and behavior packages.
package types
