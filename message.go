package callstream

import "fmt"

// Pattern identifies one of the four fixed request/response cardinalities a
// call session is locked to at creation. The pattern decides which send and
// receive operations are legal for the lifetime of the session.
type Pattern int

const (
	// Unary is a single request followed by a single response.
	Unary Pattern = iota
	// ServerStream is a single request followed by any number of responses.
	ServerStream
	// ClientStream is any number of requests followed by a single response.
	ClientStream
	// Bidirectional is concurrent, independently driven request and response
	// streams over one session.
	Bidirectional

	// patternUnknown tags sessions rejected before their method could be
	// resolved to a registered pattern.
	patternUnknown Pattern = -1
)

func (p Pattern) String() string {
	switch p {
	case Unary:
		return "unary"
	case ServerStream:
		return "server-stream"
	case ClientStream:
		return "client-stream"
	case Bidirectional:
		return "bidirectional"
	case patternUnknown:
		return "unknown"
	}
	return fmt.Sprintf("pattern(%d)", int(p))
}

func (p Pattern) valid() bool {
	return p >= Unary && p <= Bidirectional
}

// Direction is the logical direction of a message relative to the session
// observing it: Inbound messages travel toward the handler, Outbound messages
// away from it. It is not a wire-level notion; a transport re-tags a delivered
// message as Inbound for the receiving end.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Message is the unit exchanged in both directions of a session: an opaque
// typed payload plus a sequence tag. Sequence numbers increase strictly per
// direction per session and are assigned by the sending side; receivers use
// them to detect reordering and drops. A Message is immutable once
// constructed.
type Message struct {
	seq     uint64
	dir     Direction
	payload any
}

// NewMessage constructs a message. Sessions assign sequence numbers
// themselves; only transports and client-side callers normally need this.
func NewMessage(dir Direction, seq uint64, payload any) Message {
	return Message{seq: seq, dir: dir, payload: payload}
}

// Seq returns the message's per-direction sequence number.
func (m Message) Seq() uint64 { return m.seq }

// Direction returns the message's logical direction.
func (m Message) Direction() Direction { return m.dir }

// Payload returns the already-decoded payload value.
func (m Message) Payload() any { return m.payload }
