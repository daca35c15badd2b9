package callstream

import (
	"context"
	"io"
	"sync"
)

// DefaultQueueCapacity is the per-direction queue bound used by Pipe when the
// caller does not specify one.
const DefaultQueueCapacity = 16

// Pipe creates a synchronous, in-process pair of connected Transports: what
// is sent on one end is received on the other. Each direction is an
// independent bounded FIFO queue of the given capacity, so a slow consumer
// applies backpressure to the sender once the queue fills rather than letting
// it grow without bound. A capacity of zero or less selects
// DefaultQueueCapacity.
//
// Pipe is the reference transport for the engine's tests and for embedders
// that run caller and handler in one process.
func Pipe(capacity int) (Transport, Transport) {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	ab := newPipeHalf(capacity)
	ba := newPipeHalf(capacity)
	a := &pipeEnd{out: ab, in: ba, closed: make(chan struct{})}
	b := &pipeEnd{out: ba, in: ab, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// pipeHalf is one direction of a pipe: a bounded message queue plus the
// half-close signal for that direction. Observing sendClosed closed after a
// channel receive gives safe visibility of every message enqueued before the
// half-close.
type pipeHalf struct {
	msgs       chan Message
	sendClosed chan struct{}
	closeOnce  sync.Once
}

func newPipeHalf(capacity int) *pipeHalf {
	return &pipeHalf{
		msgs:       make(chan Message, capacity),
		sendClosed: make(chan struct{}),
	}
}

func (h *pipeHalf) closeSend() {
	h.closeOnce.Do(func() {
		close(h.sendClosed)
	})
}

type pipeEnd struct {
	out  *pipeHalf // this end sends here
	in   *pipeHalf // this end receives here
	peer *pipeEnd

	closed    chan struct{}
	closeOnce sync.Once
}

func (e *pipeEnd) Send(ctx context.Context, msg Message) error {
	select {
	case <-e.out.sendClosed:
		return io.ErrClosedPipe
	case <-e.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case e.out.msgs <- msg:
		return nil
	case <-e.out.sendClosed:
		return io.ErrClosedPipe
	case <-e.closed:
		return io.ErrClosedPipe
	case <-e.peer.closed:
		// The peer tore the session down; its queue will never drain.
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *pipeEnd) Receive(ctx context.Context) (Message, error) {
	select {
	case <-e.closed:
		return Message{}, io.ErrClosedPipe
	default:
	}
	// Deliver queued messages ahead of any close signal.
	select {
	case m := <-e.in.msgs:
		return inbound(m), nil
	default:
	}
	select {
	case m := <-e.in.msgs:
		return inbound(m), nil
	case <-e.in.sendClosed:
	case <-e.peer.closed:
	case <-e.closed:
		return Message{}, io.ErrClosedPipe
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
	// Half-close observed; a message may still have raced ahead of it.
	select {
	case m := <-e.in.msgs:
		return inbound(m), nil
	default:
		return Message{}, io.EOF
	}
}

func (e *pipeEnd) CloseSend() error {
	e.out.closeSend()
	return nil
}

func (e *pipeEnd) Close() error {
	e.closeOnce.Do(func() {
		// Half-close outbound so the peer can drain what was already sent,
		// then stop all local operations.
		e.out.closeSend()
		close(e.closed)
	})
	return nil
}

// inbound re-tags a delivered message for the receiving side.
func inbound(m Message) Message {
	return NewMessage(Inbound, m.Seq(), m.Payload())
}
