package comms

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// Handler receives messages delivered to a subscribed topic.
type Handler func(msg Message)

// Hub is the node-local entry point of the communication layer. It owns the
// peer registry, channel membership, topic subscriptions and message routing;
// peers and channels are mutated only through its public operations.
type Hub struct {
	mu       sync.RWMutex
	nodeID   string
	cfg      config.CommsConfig
	peers    map[string]*Peer
	channels map[string]*Channel

	subsMu      sync.RWMutex
	subscribers map[string][]Handler

	seenMu    sync.Mutex
	seen      map[string]bool
	seenOrder []string

	sent      atomic.Int64
	received  atomic.Int64
	dropped   atomic.Int64
	bytes     atomic.Int64
	latencyMu sync.Mutex
	latencies []time.Duration

	transport Transport
	limiter   *rate.Limiter
	rngMu     sync.Mutex
	rng       *rand.Rand

	logger *zap.Logger
}

// NewHub creates a hub for the given node. A nil transport falls back to the
// simulated one.
func NewHub(nodeID string, cfg config.CommsConfig, transport Transport, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transport == nil {
		transport = NewSimTransport(0.95, time.Millisecond, 20*time.Millisecond, 0)
	}
	if cfg.GossipRate <= 0 {
		cfg.GossipRate = 50
	}
	return &Hub{
		nodeID:      nodeID,
		cfg:         cfg,
		peers:       make(map[string]*Peer),
		channels:    make(map[string]*Channel),
		subscribers: make(map[string][]Handler),
		seen:        make(map[string]bool),
		transport:   transport,
		limiter:     rate.NewLimiter(rate.Limit(cfg.GossipRate), int(cfg.GossipRate)),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:      logger.With(zap.String("component", "comms_hub"), zap.String("node_id", nodeID)),
	}
}

// NodeID returns the owning node's identifier.
func (h *Hub) NodeID() string { return h.nodeID }

// SeedRand re-seeds gossip peer selection for deterministic tests.
func (h *Hub) SeedRand(seed int64) {
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	h.rng = rand.New(rand.NewSource(seed))
}

// AddPeer registers a peer as active.
func (h *Hub) AddPeer(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[id]; !ok {
		h.peers[id] = &Peer{ID: id, Active: true, LastSeen: time.Now()}
	}
}

// RemovePeer drops a peer and its channel memberships.
func (h *Hub) RemovePeer(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, id)
	for _, ch := range h.channels {
		delete(ch.Members, id)
	}
}

// SetPeerActive flips a peer's liveness flag.
func (h *Hub) SetPeerActive(id string, active bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peers[id]
	if !ok {
		return false
	}
	p.Active = active
	return true
}

// Peers returns a snapshot of all known peers.
func (h *Hub) Peers() []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, *p)
	}
	return out
}

// JoinChannel adds a member to a channel, creating the channel on first join.
func (h *Hub) JoinChannel(channelID, memberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[channelID]
	if !ok {
		ch = &Channel{ID: channelID, Members: make(map[string]bool)}
		h.channels[channelID] = ch
	}
	ch.Members[memberID] = true
}

// LeaveChannel removes a member from a channel.
func (h *Hub) LeaveChannel(channelID, memberID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[channelID]
	if !ok {
		return types.NewErrorf(types.ErrChannelNotFound, "channel %q not found", channelID)
	}
	delete(ch.Members, memberID)
	return nil
}

// Subscribe registers a handler for a topic. Direct messages addressed to
// this node reach subscribers of TopicDirect.
func (h *Hub) Subscribe(topic string, handler Handler) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	h.subscribers[topic] = append(h.subscribers[topic], handler)
}

// Publish delivers data to local subscribers of the topic.
func (h *Hub) Publish(topic string, payload map[string]any) {
	msg := Message{
		ID:        uuid.NewString(),
		Sender:    h.nodeID,
		Topic:     topic,
		Type:      topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	h.notify(topic, msg)
}

// Send routes a message under the selected protocol. Per-delivery failures
// are reflected in the result, not returned as errors; precondition
// violations (missing recipient or channel) fail fast.
func (h *Hub) Send(ctx context.Context, msg Message, opts SendOptions) (*SendResult, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Sender = h.nodeID
	msg.Timestamp = time.Now()
	msg.Protocol = opts.Protocol
	msg.Priority = opts.Priority
	msg.TTL = opts.TTL
	if msg.TTL <= 0 {
		msg.TTL = h.cfg.DefaultTTL
	}

	switch opts.Protocol {
	case ProtocolDirect:
		if opts.Recipient == "" {
			return nil, types.NewError(types.ErrPreconditionFailed, "direct send requires a recipient")
		}
		msg.Recipient = opts.Recipient
		return h.sendDirect(ctx, msg)
	case ProtocolBroadcast:
		return h.fanOut(ctx, msg, h.activePeers(nil))
	case ProtocolMulticast:
		if opts.Channel == "" {
			return nil, types.NewError(types.ErrPreconditionFailed, "multicast requires a channel id")
		}
		members, err := h.channelMembers(opts.Channel)
		if err != nil {
			return nil, err
		}
		msg.Channel = opts.Channel
		return h.fanOut(ctx, msg, members)
	case ProtocolGossip:
		h.markSeen(msg.ID)
		return h.gossip(ctx, msg, "")
	default:
		return nil, types.NewErrorf(types.ErrPreconditionFailed, "unknown protocol %q", opts.Protocol)
	}
}

// Receive is the ingress path for messages delivered by a transport. It
// suppresses duplicates, updates peer statistics, notifies subscribers, and
// re-gossips gossip messages while their hop limit lasts.
func (h *Hub) Receive(ctx context.Context, msg Message) {
	h.received.Add(1)
	if h.alreadySeen(msg.ID) {
		h.dropped.Add(1)
		return
	}
	h.markSeen(msg.ID)

	h.mu.Lock()
	if p, ok := h.peers[msg.Sender]; ok {
		p.Received++
		p.LastSeen = time.Now()
	}
	h.mu.Unlock()

	switch {
	case msg.Protocol == ProtocolDirect && msg.Recipient == h.nodeID:
		h.notify(TopicDirect, msg)
		if msg.Topic != "" {
			h.notify(msg.Topic, msg)
		}
	default:
		if msg.Topic != "" {
			h.notify(msg.Topic, msg)
		}
		if msg.Type != "" && msg.Type != msg.Topic {
			h.notify(msg.Type, msg)
		}
	}

	if msg.Protocol == ProtocolGossip && msg.TTL > 1 {
		fwd := msg
		fwd.TTL--
		if _, err := h.gossip(ctx, fwd, msg.Sender); err != nil {
			h.logger.Debug("gossip forward failed", zap.Error(err))
		}
	}
}

// Stats returns a snapshot of communication statistics.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	peers, channels := len(h.peers), len(h.channels)
	h.mu.RUnlock()

	h.latencyMu.Lock()
	var avg time.Duration
	if len(h.latencies) > 0 {
		var total time.Duration
		for _, l := range h.latencies {
			total += l
		}
		avg = total / time.Duration(len(h.latencies))
	}
	h.latencyMu.Unlock()

	return HubStats{
		Sent:       h.sent.Load(),
		Received:   h.received.Load(),
		Dropped:    h.dropped.Load(),
		Bytes:      h.bytes.Load(),
		AvgLatency: avg,
		Peers:      peers,
		Channels:   channels,
	}
}

// Reset drops all peer and channel state. Used on shutdown.
func (h *Hub) Reset() {
	h.mu.Lock()
	h.peers = make(map[string]*Peer)
	h.channels = make(map[string]*Channel)
	h.mu.Unlock()

	h.seenMu.Lock()
	h.seen = make(map[string]bool)
	h.seenOrder = nil
	h.seenMu.Unlock()
}

func (h *Hub) sendDirect(ctx context.Context, msg Message) (*SendResult, error) {
	res := &SendResult{MessageID: msg.ID, Protocol: ProtocolDirect}
	if msg.Recipient == h.nodeID {
		h.Receive(ctx, msg)
		res.Delivered = 1
		return res, nil
	}
	if ok := h.deliverTo(ctx, msg.Recipient, msg); ok {
		res.Delivered = 1
	} else {
		res.Failed = 1
		res.Dropped = true
	}
	return res, nil
}

// gossip forwards msg to a random fanout-sized subset of active peers.
func (h *Hub) gossip(ctx context.Context, msg Message, exclude string) (*SendResult, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, types.NewError(types.ErrTimeout, "gossip rate limit wait cancelled").WithCause(err)
	}
	peers := h.activePeers(func(p *Peer) bool { return p.ID != exclude && p.ID != msg.Sender })
	if len(peers) > h.cfg.GossipFanout {
		h.rngMu.Lock()
		h.rng.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
		h.rngMu.Unlock()
		peers = peers[:h.cfg.GossipFanout]
	}
	res, err := h.fanOut(ctx, msg, peers)
	if err != nil {
		return nil, err
	}
	res.Protocol = ProtocolGossip
	return res, nil
}

// fanOut delivers msg to every target in parallel. Send order across peers is
// unspecified; per-peer order is preserved by the transport.
func (h *Hub) fanOut(ctx context.Context, msg Message, targets []string) (*SendResult, error) {
	res := &SendResult{MessageID: msg.ID, Protocol: msg.Protocol}
	if len(targets) == 0 {
		return res, nil
	}

	var delivered, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, peerID := range targets {
		if peerID == h.nodeID {
			continue
		}
		g.Go(func() error {
			if h.deliverTo(gctx, peerID, msg) {
				delivered.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Delivered = int(delivered.Load())
	res.Failed = int(failed.Load())
	res.Dropped = res.Delivered == 0 && res.Failed > 0
	return res, nil
}

// deliverTo sends one message to one peer and records statistics. Returns
// whether delivery succeeded.
func (h *Hub) deliverTo(ctx context.Context, peerID string, msg Message) bool {
	h.mu.RLock()
	peer, ok := h.peers[peerID]
	active := ok && peer.Active
	h.mu.RUnlock()
	if !active {
		h.dropped.Add(1)
		return false
	}

	result, err := h.transport.Deliver(ctx, peerID, msg)
	if err != nil || !result.Success {
		h.dropped.Add(1)
		if err != nil {
			h.logger.Debug("delivery failed",
				zap.String("peer_id", peerID),
				zap.Error(err),
			)
		}
		return false
	}

	h.sent.Add(1)
	h.bytes.Add(int64(msg.Size()))
	h.recordLatency(result.Latency)

	h.mu.Lock()
	if p, ok := h.peers[peerID]; ok {
		p.Sent++
		p.Latency = result.Latency
	}
	h.mu.Unlock()
	return true
}

func (h *Hub) recordLatency(latency time.Duration) {
	h.latencyMu.Lock()
	defer h.latencyMu.Unlock()
	h.latencies = append(h.latencies, latency)
	if window := h.cfg.LatencyWindow; window > 0 && len(h.latencies) > window {
		h.latencies = h.latencies[len(h.latencies)-window:]
	}
}

func (h *Hub) activePeers(filter func(*Peer) bool) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.peers))
	for _, p := range h.peers {
		if !p.Active {
			continue
		}
		if filter != nil && !filter(p) {
			continue
		}
		out = append(out, p.ID)
	}
	return out
}

func (h *Hub) channelMembers(channelID string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[channelID]
	if !ok {
		return nil, types.NewErrorf(types.ErrChannelNotFound, "channel %q not found", channelID)
	}
	ch.Messages++
	members := make([]string, 0, len(ch.Members))
	for id := range ch.Members {
		if id != h.nodeID {
			members = append(members, id)
		}
	}
	return members, nil
}

func (h *Hub) notify(topic string, msg Message) {
	h.subsMu.RLock()
	handlers := append([]Handler(nil), h.subscribers[topic]...)
	h.subsMu.RUnlock()
	for _, handler := range handlers {
		handler(msg)
	}
}

func (h *Hub) markSeen(id string) {
	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	if h.seen[id] {
		return
	}
	h.seen[id] = true
	h.seenOrder = append(h.seenOrder, id)
	max := h.cfg.SeenCacheSize
	if max <= 0 {
		max = 1000
	}
	for len(h.seenOrder) > max {
		delete(h.seen, h.seenOrder[0])
		h.seenOrder = h.seenOrder[1:]
	}
}

func (h *Hub) alreadySeen(id string) bool {
	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	return h.seen[id]
}
