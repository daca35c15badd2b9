package callstream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FailureReason categorizes why a session reached the Failed state.
// Application-level failures never appear here: they are carried as response
// payloads and the session completes normally.
type FailureReason int

const (
	// ReasonNone is reported for sessions that have not failed.
	ReasonNone FailureReason = iota
	// ReasonTransport is an underlying pipe failure: connection reset or an
	// I/O fault. Always fatal to the session.
	ReasonTransport
	// ReasonCancelled is a cooperative cancellation observed at a suspension
	// point, either through the session context or a peer going away
	// mid-stream.
	ReasonCancelled
	// ReasonUnsupportedPattern is a dispatcher-level rejection of a method
	// that was never registered; it occurs before any transport I/O.
	ReasonUnsupportedPattern
	// ReasonProtocol is a violation of the engine's ordering contract, such
	// as an inbound sequence number that regressed.
	ReasonProtocol
	// ReasonInternal is a defect surfaced at runtime, such as a panicking
	// business function.
	ReasonInternal
)

func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonTransport:
		return "transport"
	case ReasonCancelled:
		return "cancelled"
	case ReasonUnsupportedPattern:
		return "unsupported-pattern"
	case ReasonProtocol:
		return "protocol"
	case ReasonInternal:
		return "internal"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ErrorReply is the default payload used to carry a business-function error
// back to the peer as data. Applications usually install their own encoding
// via WithErrorEncoder so errors arrive in the application's response type.
type ErrorReply struct {
	Message string
}

func defaultErrorEncoder(err error) any {
	return &ErrorReply{Message: err.Error()}
}

// isCancellation reports whether err indicates the session or its peer went
// away on purpose, as opposed to a transport fault.
func isCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
		// a send failing closed means the peer stopped listening mid-stream
		return true
	}
	switch status.Code(err) {
	case codes.Canceled, codes.DeadlineExceeded:
		return true
	}
	return false
}

// wrapIOError converts an error from a transport operation into a
// status-coded error so finish can derive the failure reason. Errors that
// already carry a status code pass through unchanged. Stream-closed signals
// never reach here; handlers treat io.EOF from Receive as loop termination.
func wrapIOError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if isCancellation(err) {
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Unavailable, err.Error())
}

// reasonFor maps the error a handler finished with to the session's
// FailureReason.
func reasonFor(err error) FailureReason {
	switch status.Code(err) {
	case codes.Canceled, codes.DeadlineExceeded:
		return ReasonCancelled
	case codes.Unimplemented:
		return ReasonUnsupportedPattern
	case codes.InvalidArgument:
		return ReasonProtocol
	case codes.Internal:
		return ReasonInternal
	}
	if isCancellation(err) {
		return ReasonCancelled
	}
	return ReasonTransport
}
