package comms

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/types"
)

const (
	msgTypeRequest  = "request"
	msgTypeResponse = "response"
)

// Requester provides request/response semantics over direct messages,
// correlating responses by request id. Timed-out requests are rejected and
// their correlation entries removed so nothing leaks.
type Requester struct {
	hub     *Hub
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan Message

	logger *zap.Logger
}

// NewRequester wires a requester to a hub and subscribes it to direct
// traffic so responses are matched to their callers.
func NewRequester(hub *Hub, timeout time.Duration, logger *zap.Logger) *Requester {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Requester{
		hub:     hub,
		timeout: timeout,
		pending: make(map[string]chan Message),
		logger:  logger.With(zap.String("component", "comms_requester")),
	}
	hub.Subscribe(TopicDirect, r.onDirect)
	return r
}

// Request sends a direct request and waits for the correlated response.
func (r *Requester) Request(ctx context.Context, recipient string, payload map[string]any) (Message, error) {
	requestID := uuid.NewString()
	ch := make(chan Message, 1)

	r.mu.Lock()
	r.pending[requestID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, requestID)
		r.mu.Unlock()
	}()

	msg := Message{
		Type:          msgTypeRequest,
		Payload:       payload,
		CorrelationID: requestID,
	}
	result, err := r.hub.Send(ctx, msg, SendOptions{Protocol: ProtocolDirect, Recipient: recipient})
	if err != nil {
		return Message{}, err
	}
	if result.Delivered == 0 {
		return Message{}, types.NewErrorf(types.ErrPeerUnavailable, "request to %q not delivered", recipient)
	}

	timeout := r.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return Message{}, types.NewErrorf(types.ErrTimeout, "request %s to %q timed out", requestID, recipient)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Respond answers a received request, echoing its correlation id.
func (r *Requester) Respond(ctx context.Context, request Message, payload map[string]any) error {
	msg := Message{
		Type:          msgTypeResponse,
		Payload:       payload,
		CorrelationID: request.CorrelationID,
	}
	result, err := r.hub.Send(ctx, msg, SendOptions{Protocol: ProtocolDirect, Recipient: request.Sender})
	if err != nil {
		return err
	}
	if result.Delivered == 0 {
		return types.NewErrorf(types.ErrPeerUnavailable, "response to %q not delivered", request.Sender)
	}
	return nil
}

// Pending returns the number of in-flight requests.
func (r *Requester) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Requester) onDirect(msg Message) {
	if msg.Type != msgTypeResponse || msg.CorrelationID == "" {
		return
	}
	r.mu.Lock()
	ch, ok := r.pending[msg.CorrelationID]
	r.mu.Unlock()
	if !ok {
		r.logger.Debug("dropping uncorrelated response",
			zap.String("correlation_id", msg.CorrelationID),
		)
		return
	}
	select {
	case ch <- msg:
	default:
	}
}
