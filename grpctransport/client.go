package grpctransport

import (
	"context"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/arcfault/callstream"
)

// Open starts one call session over ch and returns the client end of its
// transport, ready to hand to a callstream.Caller. The engine method name
// is attached as request metadata for the serving Handler to dispatch on.
//
// Closing the returned transport cancels the underlying stream, which the
// server observes as cooperative cancellation.
func Open(ctx context.Context, ch grpc.ClientConnInterface, methodName string, opts ...grpc.CallOption) (callstream.Transport, error) {
	ctx, cancel := context.WithCancel(ctx)
	ctx = metadata.AppendToOutgoingContext(ctx, methodKey, methodName)
	stream, err := ch.NewStream(ctx, &openStreamDesc, openMethodPath, opts...)
	if err != nil {
		cancel()
		return nil, err
	}
	t := &clientTransport{
		ctx:    ctx,
		cancel: cancel,
		stream: stream,
		ingest: make(chan callstream.Message, 1),
		closed: make(chan struct{}),
	}
	go t.pump()
	return t, nil
}

// clientTransport adapts the client end of an Open stream to the Transport
// contract, mirroring serverTransport: a pump goroutine ingests response
// frames so Receive can honor its context.
type clientTransport struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream grpc.ClientStream

	// inbound frames, fed by the pump; ingestErr is set before ingest is
	// closed, so observing the channel close gives safe visibility
	ingest    chan callstream.Message
	ingestErr error

	// for sending frames to the server
	sendMu     sync.Mutex
	sendClosed bool

	closed    chan struct{}
	closeOnce sync.Once
}

func (t *clientTransport) pump() {
	defer close(t.ingest)
	for {
		var b wrapperspb.BytesValue
		if err := t.stream.RecvMsg(&b); err != nil {
			// io.EOF means the session completed; any other error is the
			// session's terminal status
			t.ingestErr = err
			return
		}
		msg, err := decodeFrame(b.Value)
		if err != nil {
			t.ingestErr = err
			return
		}
		select {
		case t.ingest <- msg:
		case <-t.closed:
			return
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *clientTransport) Send(ctx context.Context, msg callstream.Message) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if t.sendClosed {
		return io.ErrClosedPipe
	}
	select {
	case <-t.closed:
		return io.ErrClosedPipe
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encodeFrame(msg)
	if err != nil {
		return err
	}
	// a dead peer surfaces as io.EOF here, which the engine reads as the
	// closed-pipe signal
	return t.stream.SendMsg(wrapperspb.Bytes(b))
}

func (t *clientTransport) Receive(ctx context.Context) (callstream.Message, error) {
	// deliver ingested messages ahead of any close signal
	select {
	case msg, ok := <-t.ingest:
		return t.delivered(msg, ok)
	default:
	}
	select {
	case msg, ok := <-t.ingest:
		return t.delivered(msg, ok)
	case <-t.closed:
		return callstream.Message{}, io.ErrClosedPipe
	case <-ctx.Done():
		return callstream.Message{}, ctx.Err()
	}
}

func (t *clientTransport) delivered(msg callstream.Message, ok bool) (callstream.Message, error) {
	if !ok {
		if t.ingestErr == nil {
			// the pump only exits without an error when the transport closed
			return callstream.Message{}, io.ErrClosedPipe
		}
		return callstream.Message{}, t.ingestErr
	}
	return msg, nil
}

// CloseSend half-closes the request direction; the serving session observes
// it as io.EOF.
func (t *clientTransport) CloseSend() error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if t.sendClosed {
		return nil
	}
	t.sendClosed = true
	return t.stream.CloseSend()
}

// Close cancels the stream, tearing the call down from the client side.
func (t *clientTransport) Close() error {
	t.closeOnce.Do(func() {
		t.sendMu.Lock()
		t.sendClosed = true
		t.sendMu.Unlock()
		close(t.closed)
		t.cancel()
	})
	return nil
}
