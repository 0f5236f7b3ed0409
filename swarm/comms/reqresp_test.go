package comms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/types"
)

func TestRequester_RoundTrip(t *testing.T) {
	hubs, _ := newLoopbackSwarm(t, 2, nil)
	reqA := NewRequester(hubs[0], time.Second, zap.NewNop())
	respB := NewRequester(hubs[1], time.Second, zap.NewNop())

	hubs[1].Subscribe(TopicDirect, func(msg Message) {
		if msg.Type != msgTypeRequest {
			return
		}
		err := respB.Respond(context.Background(), msg, map[string]any{"echo": msg.Payload["q"]})
		assert.NoError(t, err)
	})

	resp, err := reqA.Request(context.Background(), "b", map[string]any{"q": "status"})
	require.NoError(t, err)
	assert.Equal(t, "status", resp.Payload["echo"])
	assert.Equal(t, 0, reqA.Pending())
}

func TestRequester_TimeoutRemovesPendingEntry(t *testing.T) {
	hubs, _ := newLoopbackSwarm(t, 2, nil)
	req := NewRequester(hubs[0], 20*time.Millisecond, zap.NewNop())

	// Peer b exists but never answers.
	_, err := req.Request(context.Background(), "b", map[string]any{"q": "ping"})
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.Equal(t, 0, req.Pending())
}

func TestRequester_UnreachablePeer(t *testing.T) {
	hubs, _ := newLoopbackSwarm(t, 1, nil)
	hubs[0].AddPeer("ghost") // known but not attached to the fabric
	req := NewRequester(hubs[0], time.Second, zap.NewNop())

	_, err := req.Request(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrPeerUnavailable, types.GetErrorCode(err))
}

func TestRequester_ContextCancellation(t *testing.T) {
	hubs, _ := newLoopbackSwarm(t, 2, nil)
	req := NewRequester(hubs[0], time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := req.Request(ctx, "b", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, req.Pending())
}
