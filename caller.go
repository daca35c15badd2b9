package callstream

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Caller drives the client side of a call session: it numbers outbound
// messages, validates the order of inbound ones, and offers the per-pattern
// conveniences client code composes the four choreographies from. How the
// peer end of the transport reached a Dispatcher is the transport's
// business; a Caller only ever sees its own end.
//
// A Caller supports one concurrent sender and one concurrent receiver,
// mirroring the Transport contract.
type Caller struct {
	transport Transport

	// for sending requests
	sendMu  sync.Mutex
	nextSeq uint64

	// for receiving responses
	recvMu  sync.Mutex
	lastSeq uint64
}

// NewCaller wraps the client end of a Transport. The transport belongs
// exclusively to the returned Caller.
func NewCaller(t Transport) *Caller {
	return &Caller{transport: t}
}

// Send delivers one request payload to the peer, tagged with the next
// outbound sequence number.
func (c *Caller) Send(ctx context.Context, payload any) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.nextSeq++
	return c.transport.Send(ctx, NewMessage(Outbound, c.nextSeq, payload))
}

// Receive returns the next response payload. It returns io.EOF once the
// peer has finished sending, and an InvalidArgument status if a response
// arrives with a sequence number lower than one already delivered.
func (c *Caller) Receive(ctx context.Context) (any, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	msg, err := c.transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Seq() < c.lastSeq {
		return nil, status.Errorf(codes.InvalidArgument,
			"response sequence regressed: received %d after %d", msg.Seq(), c.lastSeq)
	}
	c.lastSeq = msg.Seq()
	return msg.Payload(), nil
}

// CloseSend signals the peer that no more requests will follow. For
// client-streaming and bidirectional calls this is what triggers the final
// response or the end of the response stream.
func (c *Caller) CloseSend() error {
	return c.transport.CloseSend()
}

// Close tears the call down from the client side. A server mid-stream
// observes it as a canceled session.
func (c *Caller) Close() error {
	return c.transport.Close()
}

// Invoke performs a unary call: one request, half-close, one response.
func (c *Caller) Invoke(ctx context.Context, req any) (any, error) {
	if err := c.Send(ctx, req); err != nil {
		return nil, err
	}
	if err := c.CloseSend(); err != nil {
		return nil, err
	}
	return c.Receive(ctx)
}

// OpenServerStream sends the single request of a server-streaming call and
// half-closes. The caller then drains responses with Receive until io.EOF.
func (c *Caller) OpenServerStream(ctx context.Context, req any) error {
	if err := c.Send(ctx, req); err != nil {
		return err
	}
	return c.CloseSend()
}

// CloseAndReceive finishes a client-streaming call: it half-closes the
// request stream and waits for the single folded response.
func (c *Caller) CloseAndReceive(ctx context.Context) (any, error) {
	if err := c.CloseSend(); err != nil {
		return nil, err
	}
	return c.Receive(ctx)
}
