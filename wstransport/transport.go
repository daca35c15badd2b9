package wstransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/arcfault/callstream"
)

// wsTransport adapts one WebSocket connection to the Transport contract.
// Reads happen on a pump goroutine so Receive can honor its context;
// writes happen inline under a mutex, since gorilla/websocket allows only
// one writer at a time.
type wsTransport struct {
	conn   *websocket.Conn
	decode Decoder

	// inbound frames, fed by the read pump; ingestErr is set before ingest
	// is closed, so observing the channel close gives safe visibility
	ingest    chan callstream.Message
	ingestErr error

	// set by the pump when the peer closed the socket, so later write
	// failures report a gone peer rather than a transport fault
	peerClosed atomic.Bool

	// for writing frames to the peer
	writeMu    sync.Mutex
	sendClosed bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newTransport(conn *websocket.Conn, decode Decoder) *wsTransport {
	if decode == nil {
		decode = decodeAny
	}
	t := &wsTransport{
		conn:   conn,
		decode: decode,
		ingest: make(chan callstream.Message, 1),
		closed: make(chan struct{}),
	}
	go t.pump()
	return t
}

func (t *wsTransport) pump() {
	defer close(t.ingest)
	for {
		var f wireFrame
		if err := t.conn.ReadJSON(&f); err != nil {
			t.ingestErr = t.readError(err)
			return
		}
		switch f.Kind {
		case kindCloseSend:
			// the peer is done sending; no further messages arrive, but the
			// connection stays readable so a vanishing peer is still noticed
			t.ingestErr = io.EOF
			go t.watchPeer()
			return
		case kindMessage:
			payload, err := t.decode(f.Payload)
			if err != nil {
				t.ingestErr = status.Errorf(codes.InvalidArgument, "malformed frame: %v", err)
				return
			}
			select {
			case t.ingest <- callstream.NewMessage(callstream.Inbound, f.Seq, payload):
			case <-t.closed:
				return
			}
		default:
			t.ingestErr = status.Errorf(codes.InvalidArgument, "unknown frame kind %q", f.Kind)
			return
		}
	}
}

// readError maps a pump read failure to the engine's vocabulary. A peer
// that closed the socket outright stopped listening mid-stream, which the
// engine reads as cancellation rather than a transport fault.
func (t *wsTransport) readError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		t.peerClosed.Store(true)
		return io.ErrClosedPipe
	}
	if errors.Is(err, net.ErrClosed) {
		return io.ErrClosedPipe
	}
	return err
}

// watchPeer drains the connection after the peer's half-close. It is the
// sole reader once the pump has returned. Receiving the peer's close frame
// completes the close handshake, after which writes fail with ErrCloseSent.
func (t *wsTransport) watchPeer() {
	for {
		if _, _, err := t.conn.NextReader(); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				t.peerClosed.Store(true)
			}
			return
		}
	}
}

func (t *wsTransport) writeError(err error) error {
	if t.peerClosed.Load() || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return io.ErrClosedPipe
	}
	return err
}

func (t *wsTransport) Send(ctx context.Context, msg callstream.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

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
	payload, err := json.Marshal(msg.Payload())
	if err != nil {
		return status.Errorf(codes.Internal, "failed to encode frame: %v", err)
	}
	if err := t.conn.WriteJSON(wireFrame{Kind: kindMessage, Seq: msg.Seq(), Payload: payload}); err != nil {
		return t.writeError(err)
	}
	return nil
}

func (t *wsTransport) Receive(ctx context.Context) (callstream.Message, error) {
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

func (t *wsTransport) delivered(msg callstream.Message, ok bool) (callstream.Message, error) {
	if !ok {
		if t.ingestErr == nil {
			// the pump only exits without an error when the transport closed
			return callstream.Message{}, io.ErrClosedPipe
		}
		return callstream.Message{}, t.ingestErr
	}
	return msg, nil
}

// CloseSend writes the half-close marker; the peer's read pump surfaces it
// as io.EOF.
func (t *wsTransport) CloseSend() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.sendClosed {
		return nil
	}
	t.sendClosed = true
	select {
	case <-t.closed:
		return io.ErrClosedPipe
	default:
	}
	if err := t.conn.WriteJSON(wireFrame{Kind: kindCloseSend}); err != nil {
		return t.writeError(err)
	}
	return nil
}

// Close tears the connection down. Writes up to this point have already
// reached the socket, so frames in flight stay ahead of the close frame;
// the close frame itself is best effort.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.sendClosed = true
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		close(t.closed)
		_ = t.conn.Close()
	})
	return nil
}
