// Package grpctransport carries call sessions over real gRPC streams. One
// hand-written bidirectional method, callstream.v1.CallStream/Open, hosts a
// session of any pattern; the engine method name travels in request
// metadata, and each engine message crosses the wire as a gob-encoded frame
// inside a protobuf bytes wrapper. Payload types must be registered with
// encoding/gob on both ends.
//
// The package maps gRPC semantics onto the engine's Transport contract:
// client CloseSend is the inbound half-close, context cancellation is
// cooperative session cancellation, and a failed session surfaces to the
// client as the session's status error.
package grpctransport

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/arcfault/callstream"
)

// ServiceName is the wire-level gRPC service every session travels over.
const ServiceName = "callstream.v1.CallStream"

const (
	openMethodPath = "/callstream.v1.CallStream/Open"

	// methodKey is the request metadata key carrying the engine method name.
	methodKey = "callstream-method"
)

func init() {
	// the engine's default error payload may cross the wire for
	// applications that install no encoder of their own
	gob.Register(&callstream.ErrorReply{})
}

// frame is the gob envelope for one engine message. Direction is implicit:
// a received frame is always inbound to the receiving end.
type frame struct {
	Seq     uint64
	Payload any
}

func encodeFrame(msg callstream.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(frame{Seq: msg.Seq(), Payload: msg.Payload()}); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode frame: %v", err)
	}
	return buf.Bytes(), nil
}

func decodeFrame(b []byte) (callstream.Message, error) {
	var f frame
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&f); err != nil {
		return callstream.Message{}, status.Errorf(codes.InvalidArgument, "malformed frame: %v", err)
	}
	return callstream.NewMessage(callstream.Inbound, f.Seq, f.Payload), nil
}

var openStreamDesc = grpc.StreamDesc{
	StreamName:    "Open",
	ClientStreams: true,
	ServerStreams: true,
}
