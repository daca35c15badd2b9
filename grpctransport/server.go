package grpctransport

import (
	"context"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/arcfault/callstream"
)

// Handler serves call sessions over gRPC. Each accepted stream becomes one
// Transport handed to the dispatcher; the stream stays open until the
// session reaches a terminal state, and a failed session's status error
// becomes the RPC's status.
//
// See NewHandler.
type Handler struct {
	dispatcher *callstream.Dispatcher
}

// NewHandler creates a Handler that dispatches inbound streams through d.
func NewHandler(d *callstream.Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// Register registers the CallStream service with a gRPC server or any
// other service registrar, such as an in-process channel.
func (h *Handler) Register(reg grpc.ServiceRegistrar) {
	reg.RegisterService(&serviceDesc, h)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Open",
			Handler:       openHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

func openHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*Handler).open(stream)
}

func (h *Handler) open(stream grpc.ServerStream) error {
	ctx := stream.Context()
	md, _ := metadata.FromIncomingContext(ctx)
	var methodName string
	if vals := md.Get(methodKey); len(vals) > 0 {
		methodName = vals[0]
	}
	if methodName == "" {
		return status.Errorf(codes.InvalidArgument, "missing %s metadata", methodKey)
	}

	t := newServerTransport(ctx, stream)
	sess := h.dispatcher.Dispatch(ctx, methodName, t)
	<-sess.Done()
	// engine errors are status-coded, so the peer sees the right code
	return sess.Err()
}

// serverTransport adapts the server end of an Open stream to the Transport
// contract. RecvMsg cannot be interrupted by a per-call context, so a pump
// goroutine ingests frames into a channel that Receive can select on
// alongside cancellation.
type serverTransport struct {
	ctx    context.Context
	stream grpc.ServerStream

	// inbound frames, fed by the pump; ingestErr is set before ingest is
	// closed, so observing the channel close gives safe visibility
	ingest    chan callstream.Message
	ingestErr error

	// for sending frames to the client
	sendMu     sync.Mutex
	sendClosed bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newServerTransport(ctx context.Context, stream grpc.ServerStream) *serverTransport {
	t := &serverTransport{
		ctx:    ctx,
		stream: stream,
		ingest: make(chan callstream.Message, 1),
		closed: make(chan struct{}),
	}
	go t.pump()
	return t
}

func (t *serverTransport) pump() {
	defer close(t.ingest)
	for {
		var b wrapperspb.BytesValue
		if err := t.stream.RecvMsg(&b); err != nil {
			// io.EOF is the client's half-close
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

func (t *serverTransport) Send(ctx context.Context, msg callstream.Message) error {
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
	return t.stream.SendMsg(wrapperspb.Bytes(b))
}

func (t *serverTransport) Receive(ctx context.Context) (callstream.Message, error) {
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

func (t *serverTransport) delivered(msg callstream.Message, ok bool) (callstream.Message, error) {
	if !ok {
		if t.ingestErr == nil {
			// the pump only exits without an error when the transport closed
			return callstream.Message{}, io.ErrClosedPipe
		}
		return callstream.Message{}, t.ingestErr
	}
	return msg, nil
}

// CloseSend marks the outbound direction done. gRPC has no server-side
// half-close frame; the client observes it when the handler returns and the
// stream completes.
func (t *serverTransport) CloseSend() error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.sendClosed = true
	return nil
}

// Close releases the transport. The stream itself is torn down when the
// serving handler returns, which the session's terminal transition
// triggers.
func (t *serverTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return nil
}
