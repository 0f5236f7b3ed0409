package comms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/types"
)

func TestWSTransport_DeliverFrames(t *testing.T) {
	frames := make(chan Message, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err == nil {
			frames <- msg
		}
	}))
	defer srv.Close()

	transport := NewWSTransport(time.Second, zap.NewNop())
	defer transport.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	require.NoError(t, transport.Connect(context.Background(), "peer-1", url))

	result, err := transport.Deliver(context.Background(), "peer-1", Message{
		ID:     "m1",
		Sender: "node-a",
		Type:   "ping",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	select {
	case msg := <-frames:
		assert.Equal(t, "m1", msg.ID)
		assert.Equal(t, "ping", msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}
}

func TestWSTransport_UnknownPeer(t *testing.T) {
	transport := NewWSTransport(time.Second, zap.NewNop())
	_, err := transport.Deliver(context.Background(), "nobody", Message{ID: "m1"})
	require.Error(t, err)
	assert.Equal(t, types.ErrPeerUnavailable, types.GetErrorCode(err))
}

func TestWSTransport_ConnectFailure(t *testing.T) {
	transport := NewWSTransport(100*time.Millisecond, zap.NewNop())
	err := transport.Connect(context.Background(), "peer-1", "ws://127.0.0.1:1/ws")
	require.Error(t, err)
	assert.Equal(t, types.ErrPeerUnavailable, types.GetErrorCode(err))
}
