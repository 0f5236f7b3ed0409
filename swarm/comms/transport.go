package comms

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/BaSui01/swarmflow/types"
)

// DeliveryResult reports the outcome of delivering one message to one peer.
type DeliveryResult struct {
	Success bool          `json:"success"`
	Latency time.Duration `json:"latency"`
}

// Transport delivers a message to a single peer. Implementations must report
// success/failure and a latency figure; the routing logic above is agnostic
// to how delivery actually happens.
type Transport interface {
	Deliver(ctx context.Context, peerID string, msg Message) (DeliveryResult, error)
}

// SimTransport simulates peer delivery with seeded randomness so tests run
// deterministically. It is the default transport for in-process swarms.
type SimTransport struct {
	mu sync.Mutex
	// SuccessRate is the probability a delivery succeeds.
	successRate float64
	minLatency  time.Duration
	maxLatency  time.Duration
	rng         *rand.Rand
}

// NewSimTransport creates a simulated transport. A zero seed derives one from
// the current time.
func NewSimTransport(successRate float64, minLatency, maxLatency time.Duration, seed int64) *SimTransport {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if successRate <= 0 || successRate > 1 {
		successRate = 0.95
	}
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &SimTransport{
		successRate: successRate,
		minLatency:  minLatency,
		maxLatency:  maxLatency,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Deliver implements Transport.
func (t *SimTransport) Deliver(ctx context.Context, peerID string, msg Message) (DeliveryResult, error) {
	t.mu.Lock()
	success := t.rng.Float64() < t.successRate
	latency := t.minLatency
	if span := t.maxLatency - t.minLatency; span > 0 {
		latency += time.Duration(t.rng.Int63n(int64(span)))
	}
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return DeliveryResult{}, ctx.Err()
	default:
	}
	return DeliveryResult{Success: success, Latency: latency}, nil
}

// LoopbackTransport connects hubs living in the same process: delivery hands
// the message straight to the recipient hub's receive path.
type LoopbackTransport struct {
	mu   sync.RWMutex
	hubs map[string]*Hub
}

// NewLoopbackTransport creates an empty loopback fabric.
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{hubs: make(map[string]*Hub)}
}

// Attach registers a hub under its node id.
func (t *LoopbackTransport) Attach(h *Hub) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hubs[h.NodeID()] = h
}

// Detach removes a hub from the fabric.
func (t *LoopbackTransport) Detach(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.hubs, nodeID)
}

// Deliver implements Transport.
func (t *LoopbackTransport) Deliver(ctx context.Context, peerID string, msg Message) (DeliveryResult, error) {
	t.mu.RLock()
	target, ok := t.hubs[peerID]
	t.mu.RUnlock()
	if !ok {
		return DeliveryResult{}, types.NewErrorf(types.ErrPeerUnavailable, "peer %q not attached", peerID)
	}
	start := time.Now()
	target.Receive(ctx, msg)
	return DeliveryResult{Success: true, Latency: time.Since(start)}, nil
}
