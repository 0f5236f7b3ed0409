package comms

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/types"
)

// WSTransport delivers messages to peers over websocket connections using
// JSON frames. Writes per connection are serialized because websocket
// connections do not support concurrent writes; this also preserves per-peer
// send order.
type WSTransport struct {
	mu    sync.Mutex
	conns map[string]*wsConn

	dialTimeout time.Duration
	logger      *zap.Logger
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWSTransport creates an empty websocket transport.
func NewWSTransport(dialTimeout time.Duration, logger *zap.Logger) *WSTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &WSTransport{
		conns:       make(map[string]*wsConn),
		dialTimeout: dialTimeout,
		logger:      logger.With(zap.String("component", "ws_transport")),
	}
}

// Connect dials a peer's websocket endpoint and registers the connection.
func (t *WSTransport) Connect(ctx context.Context, peerID, url string) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return types.NewErrorf(types.ErrPeerUnavailable, "dial peer %q", peerID).WithCause(err)
	}
	t.Register(peerID, conn)
	return nil
}

// Register attaches an already established connection, e.g. one accepted on
// the server side.
func (t *WSTransport) Register(peerID string, conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.conns[peerID]; ok {
		_ = old.conn.Close(websocket.StatusNormalClosure, "replaced")
	}
	t.conns[peerID] = &wsConn{conn: conn}
}

// Disconnect closes and removes a peer's connection.
func (t *WSTransport) Disconnect(peerID string) {
	t.mu.Lock()
	wc, ok := t.conns[peerID]
	delete(t.conns, peerID)
	t.mu.Unlock()
	if ok {
		_ = wc.conn.Close(websocket.StatusNormalClosure, "disconnect")
	}
}

// Close shuts down all connections.
func (t *WSTransport) Close() {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*wsConn)
	t.mu.Unlock()
	for _, wc := range conns {
		_ = wc.conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
}

// Deliver implements Transport by writing one JSON frame to the peer's
// connection.
func (t *WSTransport) Deliver(ctx context.Context, peerID string, msg Message) (DeliveryResult, error) {
	t.mu.Lock()
	wc, ok := t.conns[peerID]
	t.mu.Unlock()
	if !ok {
		return DeliveryResult{}, types.NewErrorf(types.ErrPeerUnavailable, "no connection to peer %q", peerID)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return DeliveryResult{}, err
	}

	start := time.Now()
	wc.writeMu.Lock()
	err = wc.conn.Write(ctx, websocket.MessageText, data)
	wc.writeMu.Unlock()
	if err != nil {
		t.logger.Debug("websocket write failed",
			zap.String("peer_id", peerID),
			zap.Error(err),
		)
		return DeliveryResult{Success: false, Latency: time.Since(start)}, nil
	}
	return DeliveryResult{Success: true, Latency: time.Since(start)}, nil
}

// ReadLoop pumps incoming frames from a connection into the hub until the
// context is cancelled or the connection closes.
func (t *WSTransport) ReadLoop(ctx context.Context, conn *websocket.Conn, hub *Hub) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		hub.Receive(ctx, msg)
	}
}
