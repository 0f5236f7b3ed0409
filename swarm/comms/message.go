package comms

import (
	"encoding/json"
	"time"
)

// Protocol selects how a message is routed to peers.
type Protocol string

const (
	ProtocolGossip    Protocol = "gossip"
	ProtocolBroadcast Protocol = "broadcast"
	ProtocolDirect    Protocol = "direct"
	ProtocolMulticast Protocol = "multicast"
)

// TopicDirect is the subscription topic that receives direct messages
// addressed to this node.
const TopicDirect = "direct"

// Message is the unit of communication between peers.
type Message struct {
	ID            string         `json:"id"`
	Sender        string         `json:"sender"`
	Recipient     string         `json:"recipient,omitempty"`
	Channel       string         `json:"channel,omitempty"`
	Topic         string         `json:"topic,omitempty"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Protocol      Protocol       `json:"protocol"`
	TTL           int            `json:"ttl"`
	Priority      int            `json:"priority"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Size estimates the serialized size of the message in bytes.
func (m *Message) Size() int {
	data, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return len(data)
}

// SendOptions controls routing for a single Send call.
type SendOptions struct {
	Protocol Protocol
	// TTL is the hop limit; zero uses the configured default.
	TTL int
	// Priority is carried on the message for receivers.
	Priority int
	// Recipient is required for the direct protocol.
	Recipient string
	// Channel is required for the multicast protocol.
	Channel string
}

// SendResult is the structured outcome of a Send. Delivery failures are
// expected and inspectable; they are not errors.
type SendResult struct {
	MessageID string   `json:"message_id"`
	Protocol  Protocol `json:"protocol"`
	Delivered int      `json:"delivered"`
	Failed    int      `json:"failed"`
	Dropped   bool     `json:"dropped"`
}

// Peer tracks liveness and traffic statistics for a known peer.
type Peer struct {
	ID       string        `json:"id"`
	Active   bool          `json:"active"`
	LastSeen time.Time     `json:"last_seen"`
	Sent     int64         `json:"sent"`
	Received int64         `json:"received"`
	Latency  time.Duration `json:"latency"`
}

// Channel is a named multicast group. Channels are created implicitly on
// first join.
type Channel struct {
	ID       string          `json:"id"`
	Members  map[string]bool `json:"members"`
	Messages int64           `json:"messages"`
}

// HubStats summarizes communication activity.
type HubStats struct {
	Sent       int64         `json:"sent"`
	Received   int64         `json:"received"`
	Dropped    int64         `json:"dropped"`
	Bytes      int64         `json:"bytes"`
	AvgLatency time.Duration `json:"avg_latency"`
	Peers      int           `json:"peers"`
	Channels   int           `json:"channels"`
}
