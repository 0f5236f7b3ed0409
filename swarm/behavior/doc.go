// Package behavior dispatches trigger events to priority-ordered handlers.
// A single event may fire several registered behaviors; each runs isolated so
// one failure never blocks the rest. The built-in set implements the swarm's
// coordinated responses: resistance, task migration, queen preservation,
// resource sharing, emergency protocol, self-healing, splitting, negotiation.
package behavior
