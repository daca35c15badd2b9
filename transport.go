package callstream

import "context"

// Transport is one end of an ordered, reliable, bidirectional message pipe
// for a single call. It is supplied by a networking layer (an in-process
// Pipe, a gRPC stream, a websocket connection) and is owned exclusively by
// one CallSession for that session's lifetime.
//
// The engine relies on the following contract:
//
//   - Messages within one direction are delivered in send order; the
//     transport never reorders.
//   - Send blocks only for backpressure (a bounded outbound queue) and
//     returns io.ErrClosedPipe once the sending direction is closed, whether
//     by CloseSend, Close, or the peer going away.
//   - Receive blocks until a message arrives and returns io.EOF once the
//     peer has half-closed and every message delivered before the half-close
//     has been drained. It never blocks forever after the peer is done.
//   - Both Send and Receive honor their context, so cancellation is
//     observable at every suspension point.
//   - Close is idempotent and terminates both directions.
//
// Like gRPC streams, a Transport supports one concurrent sender and one
// concurrent receiver, but not concurrent calls to Send (or to Receive) from
// multiple goroutines.
type Transport interface {
	// Send enqueues one outbound message.
	Send(ctx context.Context, msg Message) error
	// Receive suspends until the next inbound message, the peer half-closes
	// (io.EOF), or ctx is done.
	Receive(ctx context.Context) (Message, error)
	// CloseSend signals that no more outbound messages will follow, without
	// closing the inbound direction. It is idempotent.
	CloseSend() error
	// Close terminates both directions. Messages already in flight toward
	// the peer remain drainable; everything else errors out. Idempotent.
	Close() error
}
