// Package callstream implements a streaming call-session engine: the
// concurrency, ordering, and lifecycle core behind the four remote call
// patterns (unary, server-streaming, client-streaming, and bidirectional
// streaming) over one logical call at a time.
//
// The engine is deliberately small. A Transport is an ordered duplex pipe
// of sequence-tagged messages for a single call, supplied by a networking
// layer; Pipe is the in-process reference implementation, and the
// grpctransport and wstransport subpackages adapt gRPC streams and
// websocket connections to the same contract. A Registry maps method names
// to a call pattern and a business function shaped for it. A Dispatcher
// creates one CallSession per inbound call and runs the pattern's
// choreography against the transport, while a Caller drives the client end.
//
// Wire framing, message encoding, and the business logic itself live
// outside the engine: payloads pass through as opaque typed values, and
// handlers only coordinate who sends what when, who owns per-session state,
// and how sessions end.
package callstream
