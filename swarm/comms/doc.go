// Package comms implements the swarm communication layer: a peer registry,
// channel and topic management, and message routing under four protocols
// (gossip, broadcast, direct, multicast) with duplicate suppression.
//
// Delivery to a single peer goes through the Transport interface, which
// reports success/failure and a latency figure. The routing logic is
// transport-agnostic: tests inject a simulated transport with seeded
// randomness, in-process swarms use the loopback transport, and production
// deployments supply a real transport such as the websocket one.
package comms
